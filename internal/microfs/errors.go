package microfs

import (
	"errors"
	"syscall"

	"github.com/janopa/microfs/internal/blockptr"
	"github.com/janopa/microfs/internal/dirent"
	"github.com/janopa/microfs/internal/pathresolve"
)

// Kind enumerates spec.md §7's error kinds.
type Kind int

const (
	KindNone Kind = iota
	KindNotFound
	KindAlreadyExists
	KindNoSpace
	KindFileTooLarge
	KindNameTooLong
	KindNotEmpty
	KindIO
	KindInvalidArgument
)

// ErrNotEmpty is raised by rmdir/rename when the target directory
// still holds entries other than "." and "..".
var ErrNotEmpty = errors.New("microfs: directory not empty")

// FSError pairs a classified Kind with the underlying error, matching
// the small exported-error-struct style of vfs/errors.go and
// vfsapi/file.go's DirectoryIsNotEmpty.
type FSError struct {
	Kind Kind
	Err  error
}

func (e *FSError) Error() string { return e.Err.Error() }
func (e *FSError) Unwrap() error { return e.Err }

func wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &FSError{Kind: kind, Err: err}
}

// classify maps an error from any lower layer onto spec.md §7's kinds.
func classify(err error) Kind {
	if err == nil {
		return KindNone
	}

	var fserr *FSError
	if errors.As(err, &fserr) {
		return fserr.Kind
	}

	switch {
	case errors.Is(err, pathresolve.ErrNotFound), errors.Is(err, dirent.ErrNotFound):
		return KindNotFound
	case errors.Is(err, dirent.ErrAlreadyExists):
		return KindAlreadyExists
	case errors.Is(err, dirent.ErrNameTooLong):
		return KindNameTooLong
	case errors.Is(err, pathresolve.ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, blockptr.ErrFileTooLarge):
		return KindFileTooLarge
	case errors.Is(err, ErrNotEmpty):
		return KindNotEmpty
	default:
		// bitmap.ErrNoSpace is not matched here: the handlers in
		// ops.go wrap it as KindNoSpace through noSpace() before
		// returning it.
		return KindIO
	}
}

// Code maps a Kind onto the negative POSIX errno convention spec.md
// §6 requires at the bridge boundary.
func Code(err error) int {
	switch classify(err) {
	case KindNotFound:
		return -int(syscall.ENOENT)
	case KindAlreadyExists:
		return -int(syscall.EEXIST)
	case KindNoSpace:
		return -int(syscall.ENOSPC)
	case KindFileTooLarge:
		return -int(syscall.EFBIG)
	case KindNameTooLong:
		return -int(syscall.ENAMETOOLONG)
	case KindNotEmpty:
		return -int(syscall.ENOTEMPTY)
	case KindInvalidArgument:
		return -int(syscall.EINVAL)
	case KindIO:
		return -int(syscall.EIO)
	default:
		return 0
	}
}
