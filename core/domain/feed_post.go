package domain

import "time"

// Post is a published post as stored in the relational store.
type Post struct {
	ID        int64     `json:"id"`
	AuthorID  int64     `json:"author_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// PostAuthor is the public projection of a post's author.
type PostAuthor struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	Permission int    `json:"permission"`
}

// NotificationPost is the content of a new_post_notification frame.
type NotificationPost struct {
	ID        int64      `json:"id"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	Author    PostAuthor `json:"author"`
	CreatedAt time.Time  `json:"created_at"`
}

// NewPost is the input of the publish route.
type NewPost struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Follow is a follower -> followed relationship.
type Follow struct {
	FollowerID int64 `json:"follower_id"`
	FollowedID int64 `json:"followed_id"`
}
