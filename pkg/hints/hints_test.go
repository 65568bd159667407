package hints

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"
)

func TestIsHint(t *testing.T) {
	if IsHint(nil) {
		t.Error("nil should not be a hint")
	}
	if IsHint(errors.New("plain")) {
		t.Error("plain error should not be a hint")
	}
	if !IsHint(New("skipped")) {
		t.Error("New should produce a hint")
	}
	if !IsHint(Wrap(fs.ErrNotExist)) {
		t.Error("Wrap should produce a hint")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestHintSurvivesWrapping(t *testing.T) {
	hint := Wrap(fs.ErrNotExist)
	wrapped := fmt.Errorf("stat %s: %w", "a/b.txt", hint)

	if !IsHint(wrapped) {
		t.Error("hint should be detectable through fmt.Errorf wrapping")
	}
	if !Is(wrapped, fs.ErrNotExist) {
		t.Error("Is should match both hint-ness and the target error")
	}
	if Is(wrapped, fs.ErrPermission) {
		t.Error("Is should not match an unrelated target")
	}
}

func TestUnwrap(t *testing.T) {
	hint := Wrap(fs.ErrNotExist)
	if !errors.Is(hint, fs.ErrNotExist) {
		t.Error("errors.Is should see through the hint wrapper")
	}
}
