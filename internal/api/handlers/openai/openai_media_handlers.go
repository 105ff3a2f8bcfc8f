package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/router-for-me/AntigravityProxyAPI/internal/api/handlers"
	"github.com/router-for-me/AntigravityProxyAPI/internal/constant"
	"github.com/router-for-me/AntigravityProxyAPI/internal/registry"
)

const (
	defaultAudioMimeType = "audio/mpeg"
	defaultAudioModel    = "gemini-2.5-flash"
)

// ImagesGenerations handles POST /v1/images/generations. The prompt runs
// through the Gemini pipeline against the image model and inline image
// parts come back as b64_json entries.
func (h *OpenAIAPIHandler) ImagesGenerations(c *gin.Context) {
	rawJSON, err := c.GetRawData()
	if err != nil {
		writeInvalidRequest(c, err)
		return
	}

	prompt := gjson.GetBytes(rawJSON, "prompt").String()
	if prompt == "" {
		writeInvalidRequest(c, fmt.Errorf("prompt is required"))
		return
	}
	model := gjson.GetBytes(rawJSON, "model").String()
	if model == "" {
		model = registry.ImageBaseModel
	}

	body, _ := sjson.Set(`{"contents":[{"role":"user","parts":[{"text":""}]}]}`, "contents.0.parts.0.text", prompt)
	h.serveImageRequest(c, model, []byte(body))
}

// ImagesEdits handles POST /v1/images/edits. The source image and prompt
// arrive as multipart form fields and go upstream as inline data.
func (h *OpenAIAPIHandler) ImagesEdits(c *gin.Context) {
	if !requireMultipart(c) {
		return
	}

	prompt := c.PostForm("prompt")
	if prompt == "" {
		writeInvalidRequest(c, fmt.Errorf("prompt is required"))
		return
	}
	model := c.PostForm("model")
	if model == "" {
		model = registry.ImageBaseModel
	}

	data, mimeType, err := readFormFile(c, "image")
	if err != nil {
		writeInvalidRequest(c, err)
		return
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}

	body := `{"contents":[{"role":"user","parts":[{"text":""},{"inlineData":{"mimeType":"","data":""}}]}]}`
	body, _ = sjson.Set(body, "contents.0.parts.0.text", prompt)
	body, _ = sjson.Set(body, "contents.0.parts.1.inlineData.mimeType", mimeType)
	body, _ = sjson.Set(body, "contents.0.parts.1.inlineData.data", base64.StdEncoding.EncodeToString(data))
	h.serveImageRequest(c, model, []byte(body))
}

// AudioTranscriptions handles POST /v1/audio/transcriptions. The audio file
// goes upstream as inline data with a transcription instruction and the
// text parts of the answer come back as the transcript.
func (h *OpenAIAPIHandler) AudioTranscriptions(c *gin.Context) {
	if !requireMultipart(c) {
		return
	}

	model := c.PostForm("model")
	if model == "" {
		model = defaultAudioModel
	}
	instruction := c.PostForm("prompt")
	if instruction == "" {
		instruction = "Transcribe this audio. Return only the transcript text."
	}

	data, mimeType, err := readFormFile(c, "file")
	if err != nil {
		writeInvalidRequest(c, err)
		return
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = defaultAudioMimeType
	}

	body := `{"contents":[{"role":"user","parts":[{"text":""},{"inlineData":{"mimeType":"","data":""}}]}]}`
	body, _ = sjson.Set(body, "contents.0.parts.0.text", instruction)
	body, _ = sjson.Set(body, "contents.0.parts.1.inlineData.mimeType", mimeType)
	body, _ = sjson.Set(body, "contents.0.parts.1.inlineData.data", base64.StdEncoding.EncodeToString(data))

	ctx, cancel := h.GetContextWithCancel(c, context.Background())
	resp, errMsg := h.Execute(ctx, constant.Gemini, model, []byte(body))
	if errMsg != nil {
		h.WriteErrorResponse(c, h.HandlerType(), errMsg)
		cancel(errMsg.Error)
		return
	}

	var transcript strings.Builder
	gjson.GetBytes(resp, "candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if !part.Get("thought").Bool() {
			transcript.WriteString(part.Get("text").String())
		}
		return true
	})
	c.JSON(http.StatusOK, gin.H{"text": transcript.String()})
	cancel(resp)
}

// serveImageRequest executes a Gemini-shaped body and renders the inline
// image parts in the OpenAI images response shape.
func (h *OpenAIAPIHandler) serveImageRequest(c *gin.Context, model string, body []byte) {
	ctx, cancel := h.GetContextWithCancel(c, context.Background())

	resp, errMsg := h.Execute(ctx, constant.Gemini, model, body)
	if errMsg != nil {
		h.WriteErrorResponse(c, h.HandlerType(), errMsg)
		cancel(errMsg.Error)
		return
	}

	var images []gin.H
	gjson.GetBytes(resp, "candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if inline := part.Get("inlineData"); inline.Exists() {
			images = append(images, gin.H{"b64_json": inline.Get("data").String()})
		}
		return true
	})
	if len(images) == 0 {
		c.JSON(http.StatusInternalServerError, handlers.ErrorResponse{
			Error: handlers.ErrorDetail{
				Message: "model response contained no image data",
				Type:    "server_error",
			},
		})
		cancel(resp)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"created": time.Now().Unix(),
		"data":    images,
	})
	cancel(resp)
}

// requireMultipart rejects requests whose Content-Type is not a multipart
// form with an explicit boundary.
func requireMultipart(c *gin.Context) bool {
	mediaType, params, err := mime.ParseMediaType(c.GetHeader("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" || params["boundary"] == "" {
		writeInvalidRequest(c, fmt.Errorf("request must be multipart/form-data with a boundary"))
		return false
	}
	return true
}

// readFormFile reads one uploaded file and reports its declared MIME type.
func readFormFile(c *gin.Context, field string) ([]byte, string, error) {
	header, err := c.FormFile(field)
	if err != nil {
		return nil, "", fmt.Errorf("missing %s file: %w", field, err)
	}
	file, err := header.Open()
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", err
	}
	return data, header.Header.Get("Content-Type"), nil
}
