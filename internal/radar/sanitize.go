package radar

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrInvalidFilename is returned for names that fail the frame name rules.
	ErrInvalidFilename = errors.New("invalid filename")
	// ErrPathEscape is returned when a resolved path leaves its cache root.
	ErrPathEscape = errors.New("path escapes cache root")
)

// FrameExt is the only extension accepted for cached frames.
const FrameExt = ".png"

const frameNameRules = "required,max=255,framechars,endswith=" + FrameExt + ",excludes=..,startsnotwith=."

var (
	frameCharsPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	nameValidator     = newNameValidator()
)

func newNameValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("framechars", func(fl validator.FieldLevel) bool {
		return frameCharsPattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// SanitizeFilename strips any directory component from name and checks the
// remaining bare name against the frame name rules. It never touches the
// filesystem.
func SanitizeFilename(name string) (string, error) {
	// Backslashes count as separators whatever the host OS.
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if err := nameValidator.Var(base, frameNameRules); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	return base, nil
}

// SafeJoin sanitizes name and joins it onto root, then re-derives the
// canonical absolute path (following symlinks where they exist) and checks
// that it is still inside the canonical root.
func SafeJoin(root, name string) (string, error) {
	clean, err := SanitizeFilename(name)
	if err != nil {
		return "", err
	}

	canonRoot, err := canonical(root)
	if err != nil {
		return "", err
	}
	full, err := canonical(filepath.Join(canonRoot, clean))
	if err != nil {
		return "", err
	}

	if !strings.HasPrefix(full, canonRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, name)
	}
	return full, nil
}

// canonical returns the absolute, symlink-resolved form of p. A missing final
// element is allowed so paths for files about to be written can be checked.
func canonical(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	dir, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.Base(abs)), nil
}
