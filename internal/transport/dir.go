package transport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// writeFile is replaced in tests to simulate slow writes.
var writeFile = os.WriteFile

// DirMailbox drops files into <Root>/<Folder>, the layout used by
// partners that collect from a shared drop folder.
type DirMailbox struct {
	Root   string
	Folder string
}

// Send writes the file under a temporary name and renames it into place
// so a collector never sees a partial file. A context that ends while
// the file is being written leaves nothing behind in the mailbox.
func (m DirMailbox) Send(ctx context.Context, f File) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	dir := filepath.Join(m.Root, m.Folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Receipt{}, fmt.Errorf("creating mailbox dir: %w", err)
	}

	dst := filepath.Join(dir, f.Name)
	if _, err := os.Stat(dst); err == nil {
		return Receipt{}, fmt.Errorf("mailbox already holds %s", f.Name)
	}

	ref := uuid.NewString()
	tmp := filepath.Join(dir, "."+f.Name+"."+ref+".tmp")
	if err := writeFile(tmp, f.Data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return Receipt{}, fmt.Errorf("writing %s: %w", f.Name, err)
	}
	if err := ctx.Err(); err != nil {
		_ = os.Remove(tmp)
		return Receipt{}, fmt.Errorf("writing %s: %w", f.Name, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return Receipt{}, fmt.Errorf("moving %s into mailbox: %w", f.Name, err)
	}
	return Receipt{Reference: ref, Location: dst}, nil
}
