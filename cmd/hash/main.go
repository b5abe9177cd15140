// Package main is a utility for generating scrypt password records. The API
// stores only salted scrypt records, never raw passwords, so this tool is
// used when manually seeding or repairing user rows without running the full
// server. The output can be inserted directly into the users.password column.
package main

import (
	"fmt"
	"os"

	"github.com/taskhive/taskhive/internal/auth"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <password>\n", os.Args[0])
		os.Exit(1)
	}

	record, err := auth.HashPassword(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "hashing failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(record)
}
