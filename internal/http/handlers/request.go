package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"clipgen/internal/domain"
	"clipgen/internal/domain/jsoncfg"
)

// readRequest accepts either a JSON body or a multipart form whose "image"
// part carries the reference image.
func (a *App) readRequest(r *http.Request) (domain.GenerationRequest, error) {
	var (
		payload jsoncfg.GenerationPayload
		upload  []byte
		err     error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		payload, upload, err = a.readMultipart(r)
	} else {
		err = readJSON(r, &payload)
	}
	if err != nil {
		return domain.GenerationRequest{}, err
	}

	cfg, err := a.gen.Preset(strings.ToLower(strings.TrimSpace(payload.Preset)))
	if err != nil {
		return domain.GenerationRequest{}, err
	}
	payload.Normalize(cfg.MaxFrames)
	if err := payload.Validate(len(upload) > 0); err != nil {
		return domain.GenerationRequest{}, err
	}
	return payload.ToRequest(upload), nil
}

func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", domain.ErrInvalidInput)
		}
		return fmt.Errorf("%w: malformed json body", domain.ErrInvalidInput)
	}
	return nil
}

func (a *App) readMultipart(r *http.Request) (jsoncfg.GenerationPayload, []byte, error) {
	var p jsoncfg.GenerationPayload
	if err := r.ParseMultipartForm(a.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return p, nil, err
		}
		return p, nil, fmt.Errorf("%w: malformed multipart body", domain.ErrInvalidInput)
	}
	defer r.MultipartForm.RemoveAll()

	form := r.MultipartForm.Value
	get := func(k string) string {
		if v := form[k]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}
	p.ImageURL = get("image_url")
	p.Dialogue = get("dialogue")
	p.SceneDescription = get("scene_description")
	p.Engine = get("engine")
	p.Model = get("model")
	p.Preset = get("preset")

	var err error
	if p.NumFrames, err = formInt(get("num_frames")); err != nil {
		return p, nil, fmt.Errorf("%w: num_frames must be an integer", domain.ErrInvalidInput)
	}
	if p.FPS, err = formInt(get("fps")); err != nil {
		return p, nil, fmt.Errorf("%w: fps must be an integer", domain.ErrInvalidInput)
	}
	if s := get("seed"); s != "" {
		if p.Seed, err = strconv.ParseInt(s, 10, 64); err != nil {
			return p, nil, fmt.Errorf("%w: seed must be an integer", domain.ErrInvalidInput)
		}
	}
	if p.EnableRefinement, err = formBool(get("enable_refinement")); err != nil {
		return p, nil, fmt.Errorf("%w: enable_refinement must be a boolean", domain.ErrInvalidInput)
	}
	if p.ToneFix, err = formBool(get("tone_fix")); err != nil {
		return p, nil, fmt.Errorf("%w: tone_fix must be a boolean", domain.ErrInvalidInput)
	}

	files := r.MultipartForm.File["image"]
	if len(files) == 0 {
		return p, nil, nil
	}
	f, err := files[0].Open()
	if err != nil {
		return p, nil, fmt.Errorf("%w: unreadable image upload", domain.ErrInvalidInput)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, a.maxUpload+1))
	if err != nil {
		return p, nil, fmt.Errorf("%w: unreadable image upload", domain.ErrInvalidInput)
	}
	if int64(len(data)) > a.maxUpload {
		return p, nil, &http.MaxBytesError{Limit: a.maxUpload}
	}
	if len(data) == 0 {
		return p, nil, fmt.Errorf("%w: image upload is empty", domain.ErrInvalidInput)
	}
	return p, data, nil
}

func formInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func formBool(s string) (*bool, error) {
	if s == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
