package database

// pqString turns "" into NULL so the ($1::text IS NULL OR ...) pattern
// skips the filter.
func pqString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
