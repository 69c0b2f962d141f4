package repotest

import "errors"

var (
	errNotFound   = errors.New("row not found")
	errForeignKey = errors.New("foreign key violation")
)
