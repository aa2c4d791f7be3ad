package vfs

import "fmt"

// Flag is the parsed form of a POSIX-style open flag string (r, rs, r+,
// w, wx, w+, wx+, a, ax, a+, ax+), as ParseFlag accepts them.
type Flag struct {
	Readable        bool
	Writable        bool
	Appendable      bool
	Truncate        bool
	Exclusive       bool
	CreateIfMissing bool
}

// ParseFlag parses one of the eleven accepted flag strings.
func ParseFlag(s string) (Flag, error) {
	switch s {
	case "r":
		return Flag{Readable: true}, nil
	case "rs":
		return Flag{Readable: true}, nil
	case "r+":
		return Flag{Readable: true, Writable: true}, nil
	case "w":
		return Flag{Writable: true, Truncate: true, CreateIfMissing: true}, nil
	case "wx":
		return Flag{Writable: true, Truncate: true, CreateIfMissing: true, Exclusive: true}, nil
	case "w+":
		return Flag{Readable: true, Writable: true, Truncate: true, CreateIfMissing: true}, nil
	case "wx+":
		return Flag{Readable: true, Writable: true, Truncate: true, CreateIfMissing: true, Exclusive: true}, nil
	case "a":
		return Flag{Writable: true, Appendable: true, CreateIfMissing: true}, nil
	case "ax":
		return Flag{Writable: true, Appendable: true, CreateIfMissing: true, Exclusive: true}, nil
	case "a+":
		return Flag{Readable: true, Writable: true, Appendable: true, CreateIfMissing: true}, nil
	case "ax+":
		return Flag{Readable: true, Writable: true, Appendable: true, CreateIfMissing: true, Exclusive: true}, nil
	default:
		return Flag{}, NewPathError("open", s, fmt.Errorf("%w: unrecognized flag %q", ErrInvalid, s))
	}
}

// OpenMode renders the flag back to its canonical flag string, the
// inverse of ParseFlag, used for logging and error messages.
func (f Flag) OpenMode() string {
	switch {
	case f.Readable && !f.Writable:
		return "r"
	case f.Readable && f.Writable && !f.Truncate && !f.Appendable:
		return "r+"
	case f.Writable && f.Truncate && f.Readable && f.Exclusive:
		return "wx+"
	case f.Writable && f.Truncate && f.Readable:
		return "w+"
	case f.Writable && f.Truncate && f.Exclusive:
		return "wx"
	case f.Writable && f.Truncate:
		return "w"
	case f.Appendable && f.Readable && f.Exclusive:
		return "ax+"
	case f.Appendable && f.Readable:
		return "a+"
	case f.Appendable && f.Exclusive:
		return "ax"
	case f.Appendable:
		return "a"
	default:
		return "r"
	}
}
