package shared

import "fmt"

// JobLockKey builds redis keys for automation run critical sections.
func JobLockKey(job string) string {
	return fmt.Sprintf("vat:job:%s:lock", job)
}
