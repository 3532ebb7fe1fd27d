package objstore

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hashmap-kz/objstore/pkg/opath"
)

func TestError_KindAndUnwrap(t *testing.T) {
	cause := fmt.Errorf("socket closed")
	err := notFoundErr("TestStore", opath.MustParse("a/b"), cause)

	assert.True(t, IsNotFound(err))
	assert.Equal(t, KindNotFound, ErrKind(err))
	assert.ErrorIs(t, err, cause)

	var oe *Error
	assert.ErrorAs(t, err, &oe)
	assert.Equal(t, "TestStore", oe.Store)
	assert.Equal(t, "a/b", oe.Path)
}

func TestError_KindThroughWrapping(t *testing.T) {
	inner := preconditionErr("TestStore", opath.MustParse("x"), fmt.Errorf("etag mismatch"))
	wrapped := fmt.Errorf("commit failed: %w", inner)

	assert.True(t, IsPrecondition(wrapped))
	assert.Equal(t, KindPrecondition, ErrKind(wrapped))
}

func TestErrKind_NonStoreError(t *testing.T) {
	assert.Equal(t, KindGeneric, ErrKind(errors.New("plain")))
	assert.Equal(t, KindGeneric, ErrKind(nil))
}

func TestError_Predicates(t *testing.T) {
	cases := []struct {
		err  error
		pred func(error) bool
	}{
		{notFoundErr("s", opath.MustParse("p"), errors.New("x")), IsNotFound},
		{alreadyExistsErr("s", opath.MustParse("p"), errors.New("x")), IsAlreadyExists},
		{preconditionErr("s", opath.MustParse("p"), errors.New("x")), IsPrecondition},
		{notModifiedErr("s", opath.MustParse("p"), errors.New("x")), IsNotModified},
		{notModifiedErr("s", opath.MustParse("p"), nil), IsNotModified},
		{notSupportedErr("s", "op"), IsNotSupported},
	}
	for _, tc := range cases {
		assert.True(t, tc.pred(tc.err), tc.err.Error())
	}
}
