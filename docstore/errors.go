package docstore

import "errors"

// ErrRootRequired is returned when the filesystem store root is empty.
var ErrRootRequired = errors.New("docstore: root directory is required")
