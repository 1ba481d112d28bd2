package handler

import (
	"github.com/hitoshi/ulib/internal/auth"
	"github.com/hitoshi/ulib/internal/author"
	"github.com/hitoshi/ulib/internal/book"
	"github.com/hitoshi/ulib/internal/comment"
	"github.com/hitoshi/ulib/internal/library"
	"github.com/hitoshi/ulib/internal/user"
)

// --- compile-time interface checks ---

var _ AuthServiceInterface = (*auth.Service)(nil)
var _ UserServiceInterface = (*user.Service)(nil)
var _ AuthorServiceInterface = (*author.Service)(nil)
var _ BookServiceInterface = (*book.Service)(nil)
var _ CommentServiceInterface = (*comment.Service)(nil)
var _ LibraryServiceInterface = (*library.Service)(nil)
