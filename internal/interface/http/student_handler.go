package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/student-records-api/internal/application"
	"github.com/oksasatya/student-records-api/internal/domain/entity"
	"github.com/oksasatya/student-records-api/internal/interface/middleware"
	"github.com/oksasatya/student-records-api/pkg/response"
	"github.com/oksasatya/student-records-api/pkg/validation"
)

const maxPhotoBytes = 5 << 20

type StudentHandler struct {
	Svc    *application.StudentService
	Logger *logrus.Logger
}

func NewStudentHandler(svc *application.StudentService, logger *logrus.Logger) *StudentHandler {
	return &StudentHandler{Svc: svc, Logger: logger}
}

type accountResponse struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type studentResponse struct {
	ID         int64            `json:"id"`
	User       *accountResponse `json:"user"`
	Enrollment string           `json:"matricula"`
	NationalID string           `json:"curp"`
	TaxID      string           `json:"rfc"`
	BirthDate  string           `json:"fecha_nacimiento"`
	Age        int              `json:"edad"`
	Phone      string           `json:"telefono"`
	Occupation string           `json:"ocupacion"`
	PhotoURL   string           `json:"foto_url,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

func toStudentResponse(st *entity.Student) studentResponse {
	out := studentResponse{
		ID:         st.ID,
		Enrollment: st.Enrollment,
		NationalID: st.NationalID,
		TaxID:      st.TaxID,
		BirthDate:  st.BirthDate.Format("2006-01-02"),
		Age:        st.Age,
		Phone:      st.Phone,
		Occupation: st.Occupation,
		PhotoURL:   st.PhotoURL,
		CreatedAt:  st.CreatedAt,
		UpdatedAt:  st.UpdatedAt,
	}
	if a := st.Account; a != nil {
		out.User = &accountResponse{ID: a.ID, Email: a.Email, FirstName: a.FirstName, LastName: a.LastName}
	}
	return out
}

type updateStudentRequest struct {
	ID profileID `json:"id"`
	application.UpdateInput
}

// profileID accepts the id as a JSON number or a numeric string. Anything
// else decodes to 0, which is answered with 404.
type profileID int64

func (p *profileID) UnmarshalJSON(b []byte) error {
	id, _ := parseID(strings.Trim(string(b), `"`))
	*p = profileID(id)
	return nil
}

// requestContext carries the caller's identity and address into the service for auditing.
func requestContext(c *gin.Context) context.Context {
	return application.WithRequestMeta(c.Request.Context(), application.RequestMeta{
		ActorID:   c.GetInt64(middleware.CtxAccountIDKey),
		IP:        clientIP(c),
		UserAgent: c.GetHeader("User-Agent"),
	})
}

func clientIP(c *gin.Context) string {
	if ip := c.GetString("real_ip"); ip != "" {
		return ip
	}
	return c.ClientIP()
}

func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// fail maps service errors onto the response envelope.
func (h *StudentHandler) fail(c *gin.Context, err error, email string) {
	var ve *application.ValidationError
	switch {
	case errors.As(err, &ve):
		response.Error[any](c, http.StatusBadRequest, "invalid payload", ve.Fields)
	case errors.Is(err, application.ErrStudentNotFound):
		response.Error[any](c, http.StatusNotFound, "student not found", nil)
	case errors.Is(err, application.ErrEmailTaken):
		response.Error[any](c, http.StatusBadRequest, "Username "+email+", is already taken", nil)
	case errors.Is(err, application.ErrDeletionFailed):
		response.Error[any](c, http.StatusBadRequest, "something went wrong while deleting the student", nil)
	case errors.Is(err, application.ErrPhotoStorage):
		response.Error[any](c, http.StatusServiceUnavailable, "photo storage unavailable", nil)
	default:
		if h.Logger != nil {
			h.Logger.WithError(err).WithField("path", c.FullPath()).Error("student request failed")
		}
		response.Error[any](c, http.StatusInternalServerError, "internal error", nil)
	}
}

// List handles GET /students. With ?id= it returns a single profile.
func (h *StudentHandler) List(c *gin.Context) {
	if raw, ok := c.GetQuery("id"); ok {
		h.get(c, raw)
		return
	}
	students, err := h.Svc.ListActive(c.Request.Context())
	if err != nil {
		h.fail(c, err, "")
		return
	}
	out := make([]studentResponse, 0, len(students))
	for i := range students {
		out = append(out, toStudentResponse(&students[i]))
	}
	response.Success(c, http.StatusOK, out, "students", map[string]any{"count": len(out)})
}

func (h *StudentHandler) get(c *gin.Context, raw string) {
	id, ok := parseID(raw)
	if !ok {
		response.Error[any](c, http.StatusNotFound, "student not found", nil)
		return
	}
	st, err := h.Svc.GetByID(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "")
		return
	}
	response.Success(c, http.StatusOK, toStudentResponse(st), "student", nil)
}

// Create handles POST /students.
func (h *StudentHandler) Create(c *gin.Context) {
	var req application.RegisterInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}
	id, err := h.Svc.Register(requestContext(c), req)
	if err != nil {
		h.fail(c, err, req.Email)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"id": id}, "student created", nil)
}

// Update handles PUT /students; the profile id travels in the body.
func (h *StudentHandler) Update(c *gin.Context) {
	var req updateStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}
	if req.ID <= 0 {
		response.Error[any](c, http.StatusNotFound, "student not found", nil)
		return
	}
	st, err := h.Svc.Update(requestContext(c), int64(req.ID), req.UpdateInput)
	if err != nil {
		email := ""
		if req.Email != nil {
			email = *req.Email
		}
		h.fail(c, err, email)
		return
	}
	response.Success(c, http.StatusOK, toStudentResponse(st), "student updated", nil)
}

// Delete handles DELETE /students?id=.
func (h *StudentHandler) Delete(c *gin.Context) {
	id, ok := parseID(c.Query("id"))
	if !ok {
		response.Error[any](c, http.StatusNotFound, "student not found", nil)
		return
	}
	if err := h.Svc.Remove(requestContext(c), id); err != nil {
		h.fail(c, err, "")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"id": id}, "student deleted", nil)
}

// Search handles GET /students/search?q=&size=.
func (h *StudentHandler) Search(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", map[string]string{"q": "is required"})
		return
	}
	size, _ := strconv.Atoi(c.DefaultQuery("size", "10"))
	hits, err := h.Svc.Search(c.Request.Context(), q, size)
	if err != nil {
		h.fail(c, err, "")
		return
	}
	response.Success(c, http.StatusOK, hits, "search results", map[string]any{"count": len(hits)})
}

// UploadPhoto handles PUT /students/photo?id= with a multipart "photo" field.
func (h *StudentHandler) UploadPhoto(c *gin.Context) {
	id, ok := parseID(c.Query("id"))
	if !ok {
		response.Error[any](c, http.StatusNotFound, "student not found", nil)
		return
	}
	fh, err := c.FormFile("photo")
	if err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", map[string]string{"photo": "is required"})
		return
	}
	if fh.Size > maxPhotoBytes {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", map[string]string{"photo": "must be at most 5MB"})
		return
	}
	contentType := fh.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", map[string]string{"photo": "must be an image"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", map[string]string{"photo": "unreadable upload"})
		return
	}
	defer func() { _ = f.Close() }()

	url, err := h.Svc.UploadPhoto(requestContext(c), id, f, fh.Filename, contentType)
	if err != nil {
		h.fail(c, err, "")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"foto_url": url}, "photo uploaded", nil)
}
