package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Plannorium/curenium-sub005/internal/pkg/errs"
)

func TestValidateFileSize(t *testing.T) {
	assert.Nil(t, ValidateFileSize(1))
	assert.Nil(t, ValidateFileSize(MaxAttachmentSize))

	require.NotNil(t, ValidateFileSize(0))
	require.NotNil(t, ValidateFileSize(-1))

	err := ValidateFileSize(MaxAttachmentSize + 1)
	require.NotNil(t, err)
	assert.Equal(t, errs.ErrFileSizeTooLarge, err.Code)
}

func TestValidateFileType(t *testing.T) {
	assert.Nil(t, ValidateFileType("scan.png", "image/png"))
	assert.Nil(t, ValidateFileType("report.PDF", "application/pdf"))
	assert.Nil(t, ValidateFileType("photo.jpeg", "IMAGE/JPEG"))

	// Extension and declared type must agree.
	assert.NotNil(t, ValidateFileType("scan.png", "image/jpeg"))
	assert.NotNil(t, ValidateFileType("noextension", "image/png"))
	assert.NotNil(t, ValidateFileType("script.exe", "image/png"))
	assert.NotNil(t, ValidateFileType("notes.txt", "text/plain"))
}

func TestValidateAttachment(t *testing.T) {
	valid := &Attachment{
		Key:      "dm:alice:bob/7f3c2e91.png",
		Name:     "xray.png",
		MimeType: "image/png",
		Size:     2048,
	}
	assert.Nil(t, ValidateAttachment(valid, "dm:alice:bob"))

	// No attachment is a valid attachment.
	assert.Nil(t, ValidateAttachment(nil, "dm:alice:bob"))

	foreign := *valid
	foreign.Key = "dm:bob:carol/7f3c2e91.png"
	err := ValidateAttachment(&foreign, "dm:alice:bob")
	require.NotNil(t, err)
	assert.Equal(t, errs.ErrAttachmentKeyInvalid, err.Code)

	huge := *valid
	huge.Size = MaxAttachmentSize + 1
	err = ValidateAttachment(&huge, "dm:alice:bob")
	require.NotNil(t, err)
	assert.Equal(t, errs.ErrFileSizeTooLarge, err.Code)
}
