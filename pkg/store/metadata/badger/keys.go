package badger

import "strings"

// Key layout
//
//	e:<path>          entry, JSON encoded
//	c:<dir>\x00<name> child index, empty value
//	s:ino             inode sequence
//
// The NUL separator keeps a prefix scan of one directory from matching the
// children of a sibling whose name extends the directory name.

const (
	prefixEntry = "e:"
	prefixChild = "c:"
	keyInoSeq   = "s:ino"

	childSep = "\x00"
)

func entryKey(p string) []byte {
	return []byte(prefixEntry + p)
}

func childKey(dir, name string) []byte {
	return []byte(prefixChild + dir + childSep + name)
}

func childPrefix(dir string) []byte {
	return []byte(prefixChild + dir + childSep)
}

// parseChildKey splits a child index key into directory and name.
func parseChildKey(key []byte) (string, string, bool) {
	rest, ok := strings.CutPrefix(string(key), prefixChild)
	if !ok {
		return "", "", false
	}
	return strings.Cut(rest, childSep)
}
