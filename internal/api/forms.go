package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rapidworks/expertdesk/internal/lifecycle"
	"github.com/rapidworks/expertdesk/internal/model"
)

const (
	maxAttachmentBytes = 25 << 20
	maxUploadBytes     = 100 << 20
)

func decodeJSON(c *gin.Context, dst any) *ErrorResponse {
	body, err := io.ReadAll(c.Request.Body)
	defer c.Request.Body.Close()
	if err != nil {
		return invalidStructure()
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return invalidStructure()
	}
	return nil
}

// CreateTaskRequest is the JSON body of POST /tasks.
type CreateTaskRequest struct {
	ExpertEmail     string `json:"expert_email"`
	ExpertName      string `json:"expert_name"`
	ExpertType      string `json:"expert_type"`
	TaskName        string `json:"task_name"`
	TaskDescription string `json:"task_description"`
	DueDate         string `json:"due_date"`
}

// CreateTaskForm is a parsed task request. Files are only present for
// multipart submissions; callers must close them.
type CreateTaskForm struct {
	Input   lifecycle.CreateTaskInput
	closers []io.Closer
}

// Close releases opened upload parts.
func (f *CreateTaskForm) Close() {
	for _, cl := range f.closers {
		_ = cl.Close()
	}
}

// ParseAndValidate reads a JSON or multipart body. Experts listed in the
// config fill in the name and type the request leaves empty.
func (f *CreateTaskForm) ParseAndValidate(c *gin.Context, experts func(string) (model.ExpertConfig, bool)) *ErrorResponse {
	var req CreateTaskRequest
	var files []*multipart.FileHeader

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
		mf, err := c.MultipartForm()
		if err != nil {
			return invalidStructure()
		}
		req = CreateTaskRequest{
			ExpertEmail:     first(mf.Value["expert_email"]),
			ExpertName:      first(mf.Value["expert_name"]),
			ExpertType:      first(mf.Value["expert_type"]),
			TaskName:        first(mf.Value["task_name"]),
			TaskDescription: first(mf.Value["task_description"]),
			DueDate:         first(mf.Value["due_date"]),
		}
		files = mf.File["files"]
	} else if verr := decodeJSON(c, &req); verr != nil {
		return verr
	}

	errs := make(map[string]string)
	in := lifecycle.CreateTaskInput{
		ExpertEmail:     strings.TrimSpace(req.ExpertEmail),
		ExpertName:      strings.TrimSpace(req.ExpertName),
		ExpertType:      strings.TrimSpace(req.ExpertType),
		TaskName:        strings.TrimSpace(req.TaskName),
		TaskDescription: strings.TrimSpace(req.TaskDescription),
	}
	if in.TaskName == "" {
		errs["task_name"] = "missed value"
	}
	if in.ExpertEmail == "" {
		errs["expert_email"] = "missed value"
	} else if experts != nil {
		if e, ok := experts(in.ExpertEmail); ok {
			if in.ExpertName == "" {
				in.ExpertName = e.Name
			}
			if in.ExpertType == "" {
				in.ExpertType = e.Type
			}
		}
	}
	if req.DueDate != "" {
		due, err := time.Parse("2006-01-02", req.DueDate)
		if err != nil {
			errs["due_date"] = "expected YYYY-MM-DD"
		} else {
			in.DueDate = &due
		}
	}

	for _, fh := range files {
		if fh.Size > maxAttachmentBytes {
			errs["files"] = fmt.Sprintf("%s exceeds %d MB", fh.Filename, maxAttachmentBytes>>20)
			continue
		}
		file, err := fh.Open()
		if err != nil {
			errs["files"] = "unreadable upload " + fh.Filename
			continue
		}
		f.closers = append(f.closers, file)
		in.Files = append(in.Files, lifecycle.Upload{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Body:        file,
		})
	}

	if len(errs) > 0 {
		f.Close()
		return newValidationError(errs)
	}
	f.Input = in
	return nil
}

// MessageRequest is the JSON body of POST /tasks/:id/messages.
type MessageRequest struct {
	ClientID string `json:"client_id"`
	Content  string `json:"content"`
}

// ParseMessage reads and validates a message body.
func ParseMessage(c *gin.Context) (lifecycle.MessageInput, *ErrorResponse) {
	var req MessageRequest
	if verr := decodeJSON(c, &req); verr != nil {
		return lifecycle.MessageInput{}, verr
	}
	if strings.TrimSpace(req.Content) == "" {
		return lifecycle.MessageInput{}, newValidationError(map[string]string{"content": "missed value"})
	}
	return lifecycle.MessageInput{ClientID: req.ClientID, Content: req.Content}, nil
}

// EstimateRequest is the JSON body of POST and PUT /tasks/:id/estimate.
type EstimateRequest struct {
	Hours    float64 `json:"hours"`
	Price    float64 `json:"price"`
	Deadline string  `json:"deadline"`
}

// ParseEstimate reads and validates an estimate body.
func ParseEstimate(c *gin.Context) (lifecycle.EstimateInput, *ErrorResponse) {
	var req EstimateRequest
	if verr := decodeJSON(c, &req); verr != nil {
		return lifecycle.EstimateInput{}, verr
	}
	errs := make(map[string]string)
	if req.Hours <= 0 {
		errs["hours"] = "must be greater than zero"
	}
	if req.Price <= 0 {
		errs["price"] = "must be greater than zero"
	}
	if len(errs) > 0 {
		return lifecycle.EstimateInput{}, newValidationError(errs)
	}
	return lifecycle.EstimateInput{Hours: req.Hours, Price: req.Price, Deadline: req.Deadline}, nil
}

// DeclineRequest is the JSON body of POST /tasks/:id/decline.
type DeclineRequest struct {
	Feedback string `json:"feedback"`
}

// StatusRequest is the JSON body of POST /tasks/:id/status. Force applies
// the admin override.
type StatusRequest struct {
	Status model.Status `json:"status"`
	Force  bool         `json:"force"`
}

// ParseStatus reads and validates a status change body.
func ParseStatus(c *gin.Context) (StatusRequest, *ErrorResponse) {
	var req StatusRequest
	if verr := decodeJSON(c, &req); verr != nil {
		return req, verr
	}
	if !req.Status.Valid() {
		return req, newValidationError(map[string]string{"status": "unknown status"})
	}
	return req, nil
}

func parseLimit(c *gin.Context) (int, *ErrorResponse) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, newValidationError(map[string]string{"limit": "expected a non-negative integer"})
	}
	return n, nil
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}
