package content

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var executableMimeTypes = []string{
	"application/x-elf",
	"application/x-executable",
	"application/x-mach-binary",
	"application/vnd.microsoft.portable-executable",
	"application/x-msdownload",
}

// InspectFile builds the submission payload for an uploaded file and sniffs its MIME type.
// Executables are rejected regardless of the declared extension.
func InspectFile(name string, data []byte) (*FileSubmission, error) {
	fileName := filepath.Base(strings.TrimSpace(name))
	if fileName == "" || fileName == "." || fileName == string(filepath.Separator) {
		return nil, invalid("file_name", "file name is required")
	}
	if len(data) == 0 {
		return nil, invalid("file", "file is empty")
	}

	detected := mimetype.Detect(data)
	for m := detected; m != nil; m = m.Parent() {
		for _, blocked := range executableMimeTypes {
			if m.Is(blocked) {
				return nil, invalid("file", "executable files are not accepted")
			}
		}
	}

	return &FileSubmission{
		FileName: fileName,
		MimeType: detected.String(),
		Size:     int64(len(data)),
	}, nil
}
