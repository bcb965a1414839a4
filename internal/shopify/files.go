package shopify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// fileReadyTimeout bounds the processing poll after fileCreate. Audio files
// take a few seconds; anything past this is stuck.
const fileReadyTimeout = 2 * time.Minute

var mimeTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".zip":  "application/zip",
}

func mimeTypeFor(path string) string {
	if mt, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return mt
	}
	return "application/octet-stream"
}

const stagedUploadsCreateMutation = `mutation stagedUploadsCreate($input: [StagedUploadInput!]!) {
  stagedUploadsCreate(input: $input) {
    stagedTargets {
      url
      resourceUrl
      parameters { name value }
    }
    userErrors { field message }
  }
}`

type stagedTarget struct {
	URL         string `json:"url"`
	ResourceURL string `json:"resourceUrl"`
	Parameters  []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"parameters"`
}

// stageUpload reserves a staged upload target for the file. resource is the
// Admin API resource kind, FILE for audio and IMAGE for artwork.
func (c *Client) stageUpload(ctx context.Context, path, resource string) (*stagedTarget, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat upload file: %w", err)
	}

	var out struct {
		StagedUploadsCreate struct {
			StagedTargets []stagedTarget `json:"stagedTargets"`
			UserErrors    []UserError    `json:"userErrors"`
		} `json:"stagedUploadsCreate"`
	}

	vars := map[string]any{
		"input": []map[string]any{{
			"filename":   filepath.Base(path),
			"mimeType":   mimeTypeFor(path),
			"resource":   resource,
			"httpMethod": "POST",
			"fileSize":   strconv.FormatInt(info.Size(), 10),
		}},
	}
	if err := c.Do(ctx, stagedUploadsCreateMutation, vars, &out); err != nil {
		return nil, err
	}
	if err := userErrorsToError("stagedUploadsCreate", out.StagedUploadsCreate.UserErrors); err != nil {
		return nil, err
	}
	if len(out.StagedUploadsCreate.StagedTargets) == 0 {
		return nil, fmt.Errorf("stagedUploadsCreate returned no target")
	}
	return &out.StagedUploadsCreate.StagedTargets[0], nil
}

// uploadStaged posts the file to the staged target as a multipart form with
// the returned parameters. The file part must come after the parameters;
// resty writes form fields before files.
func (c *Client) uploadStaged(ctx context.Context, target *stagedTarget, path string) error {
	form := make(map[string]string, len(target.Parameters))
	for _, p := range target.Parameters {
		form[p.Name] = p.Value
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		SetFile("file", path).
		Post(target.URL)
	if err != nil {
		return fmt.Errorf("staged upload failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("staged upload returned %s: %s", resp.Status(), truncate(resp.String(), 300))
	}
	return nil
}

const fileCreateMutation = `mutation fileCreate($files: [FileCreateInput!]!) {
  fileCreate(files: $files) {
    files { id fileStatus }
    userErrors { field message }
  }
}`

func (c *Client) createFile(ctx context.Context, resourceURL, alt string) (string, error) {
	var out struct {
		FileCreate struct {
			Files []struct {
				ID         string `json:"id"`
				FileStatus string `json:"fileStatus"`
			} `json:"files"`
			UserErrors []UserError `json:"userErrors"`
		} `json:"fileCreate"`
	}

	vars := map[string]any{
		"files": []map[string]any{{
			"originalSource": resourceURL,
			"contentType":    "FILE",
			"alt":            alt,
		}},
	}
	if err := c.Do(ctx, fileCreateMutation, vars, &out); err != nil {
		return "", err
	}
	if err := userErrorsToError("fileCreate", out.FileCreate.UserErrors); err != nil {
		return "", err
	}
	if len(out.FileCreate.Files) == 0 {
		return "", fmt.Errorf("fileCreate returned no file")
	}
	return out.FileCreate.Files[0].ID, nil
}

const fileStatusQuery = `query fileStatus($id: ID!) {
  node(id: $id) {
    ... on GenericFile { fileStatus }
    ... on MediaImage { fileStatus }
    ... on Video { fileStatus }
  }
}`

// waitFileReady polls the file's processing status until READY. FAILED and
// the timeout are both errors; a file stuck in UPLOADED cannot back a
// file_reference metafield.
func (c *Client) waitFileReady(ctx context.Context, fileID string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		var out struct {
			Node struct {
				FileStatus string `json:"fileStatus"`
			} `json:"node"`
		}
		if err := c.Do(ctx, fileStatusQuery, map[string]any{"id": fileID}, &out); err != nil {
			return err
		}

		switch out.Node.FileStatus {
		case "READY":
			return nil
		case "FAILED":
			return fmt.Errorf("file %s failed processing", fileID)
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("file %s not ready after %s", fileID, timeout)
		}
		if err := sleep(ctx, 2*time.Second); err != nil {
			return err
		}
	}
}

const metafieldsSetMutation = `mutation metafieldsSet($metafields: [MetafieldsSetInput!]!) {
  metafieldsSet(metafields: $metafields) {
    metafields { id }
    userErrors { field message }
  }
}`

// UploadAudioPreview uploads the mp3, waits for processing and points the
// product's audio_preview metafield at it. Returns the file's ID.
func (c *Client) UploadAudioPreview(ctx context.Context, productID, mp3Path string) (string, error) {
	target, err := c.stageUpload(ctx, mp3Path, "FILE")
	if err != nil {
		return "", err
	}
	if err := c.uploadStaged(ctx, target, mp3Path); err != nil {
		return "", err
	}

	fileID, err := c.createFile(ctx, target.ResourceURL, filepath.Base(mp3Path))
	if err != nil {
		return "", err
	}
	if err := c.waitFileReady(ctx, fileID, fileReadyTimeout); err != nil {
		return "", err
	}

	var out struct {
		MetafieldsSet struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"metafieldsSet"`
	}
	vars := map[string]any{
		"metafields": []map[string]any{{
			"ownerId":   productID,
			"namespace": metafieldNamespace,
			"key":       "audio_preview",
			"type":      "file_reference",
			"value":     fileID,
		}},
	}
	if err := c.Do(ctx, metafieldsSetMutation, vars, &out); err != nil {
		return "", err
	}
	if err := userErrorsToError("metafieldsSet", out.MetafieldsSet.UserErrors); err != nil {
		return "", err
	}

	c.logger.Info("audio preview attached", "file", filepath.Base(mp3Path))
	return fileID, nil
}

const productCreateMediaMutation = `mutation productCreateMedia($productId: ID!, $media: [CreateMediaInput!]!) {
  productCreateMedia(productId: $productId, media: $media) {
    media { alt }
    mediaUserErrors { field message }
  }
}`

// AttachProductImage uploads the artwork and adds it as product media.
func (c *Client) AttachProductImage(ctx context.Context, productID, imagePath string) error {
	target, err := c.stageUpload(ctx, imagePath, "IMAGE")
	if err != nil {
		return err
	}
	if err := c.uploadStaged(ctx, target, imagePath); err != nil {
		return err
	}

	var out struct {
		ProductCreateMedia struct {
			MediaUserErrors []UserError `json:"mediaUserErrors"`
		} `json:"productCreateMedia"`
	}
	vars := map[string]any{
		"productId": productID,
		"media": []map[string]any{{
			"originalSource":   target.ResourceURL,
			"mediaContentType": "IMAGE",
			"alt":              filepath.Base(imagePath),
		}},
	}
	if err := c.Do(ctx, productCreateMediaMutation, vars, &out); err != nil {
		return err
	}
	if err := userErrorsToError("productCreateMedia", out.ProductCreateMedia.MediaUserErrors); err != nil {
		return err
	}

	c.logger.Info("artwork attached", "file", filepath.Base(imagePath))
	return nil
}
