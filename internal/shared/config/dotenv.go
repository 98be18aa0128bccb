package config

import "os"

// existing filters paths down to files that are present so godotenv does not fail on a missing one.
func existing(paths ...string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			out = append(out, p)
		}
	}
	return out
}
