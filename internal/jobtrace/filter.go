package jobtrace

// Filter decides whether a job should be traced
type Filter interface {
	Approved(name string) bool
}

// IgnoreList rejects jobs whose resolved name exactly matches one of its entries
type IgnoreList struct {
	names map[string]struct{}
}

// NewIgnoreList creates an IgnoreList. Empty names are skipped.
func NewIgnoreList(names ...string) *IgnoreList {
	l := &IgnoreList{names: make(map[string]struct{}, len(names))}
	for _, name := range names {
		if name == "" {
			continue
		}
		l.names[name] = struct{}{}
	}
	return l
}

// Approved implements Filter
func (l *IgnoreList) Approved(name string) bool {
	if l == nil {
		return true
	}
	_, ignored := l.names[name]
	return !ignored
}

// Len returns the number of ignored names
func (l *IgnoreList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.names)
}
