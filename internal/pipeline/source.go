package pipeline

import (
	"offerscope/internal/forum"
)

// forumSource adapts the forum client to the PostSource interface.
type forumSource struct {
	c *forum.Client
}

func NewForumSource(c *forum.Client) PostSource {
	return forumSource{c: c}
}

func (s forumSource) Posts(max int, sinceID string) PostIterator {
	return s.c.Posts(forum.Options{Max: max, SinceID: sinceID})
}
