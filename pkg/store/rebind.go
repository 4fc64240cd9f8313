package store

import "strconv"

// Rebind converts `?` placeholders to the `$N` form when the target
// driver is postgres. Queries are written once with `?` and rebound at
// execution time, so the same store code runs on sqlite3 and postgres.
func Rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, '$')
			out = append(out, strconv.Itoa(n)...)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}
