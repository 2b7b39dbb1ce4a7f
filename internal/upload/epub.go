package upload

import (
	"fmt"

	"github.com/taylorskalyo/goreader/epub"
)

// VerifyEPUB opens filename as an EPUB container and checks that it has a
// rootfile with a non-empty spine. The chapter text itself is left to the
// service.
func VerifyEPUB(filename string) error {
	rc, err := epub.OpenReader(filename)
	if err != nil {
		return fmt.Errorf("failed to open epub: %w", err)
	}
	defer rc.Close()

	if len(rc.Rootfiles) == 0 {
		return fmt.Errorf("no rootfiles found in epub")
	}
	if len(rc.Rootfiles[0].Spine.Itemrefs) == 0 {
		return fmt.Errorf("epub spine is empty")
	}
	return nil
}
