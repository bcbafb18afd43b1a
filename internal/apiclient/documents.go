package apiclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"medivault/pkg/domain"
)

// UploadFields are the optional form fields sent alongside an upload.
type UploadFields struct {
	Category     string
	Description  string
	MetadataInfo string
}

func (c *Client) ListDocuments(ctx context.Context, token string) ([]domain.Document, error) {
	var docs []domain.Document
	if err := c.doJSON(ctx, http.MethodGet, "/documents/", token, nil, &docs); err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	return docs, nil
}

// UploadDocument sends the file as a single multipart payload under the
// "file" field.
func (c *Client) UploadDocument(ctx context.Context, token, filename string, r io.Reader, fields UploadFields) (domain.Document, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return domain.Document{}, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return domain.Document{}, err
	}
	for _, field := range [][2]string{
		{"category", fields.Category},
		{"description", fields.Description},
		{"metadata_info", fields.MetadataInfo},
	} {
		if field[1] == "" {
			continue
		}
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return domain.Document{}, err
		}
	}
	if err := writer.Close(); err != nil {
		return domain.Document{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/documents/upload", body)
	if err != nil {
		return domain.Document{}, err
	}
	addAuthHeader(req, token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var doc domain.Document
	if err := c.do(req, &doc); err != nil {
		return domain.Document{}, err
	}
	return doc, nil
}

func (c *Client) DeleteDocument(ctx context.Context, token string, id int64) error {
	path := fmt.Sprintf("/documents/%d", id)
	return c.doJSON(ctx, http.MethodDelete, path, token, nil, nil)
}
