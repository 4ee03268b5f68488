package application

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/student-records-api/config"
	"github.com/oksasatya/student-records-api/internal/domain/entity"
	"github.com/oksasatya/student-records-api/internal/domain/repository"
	"github.com/oksasatya/student-records-api/pkg/helpers"
	"github.com/oksasatya/student-records-api/pkg/mailer"
	mailtpl "github.com/oksasatya/student-records-api/pkg/mailer/templates"
	"github.com/oksasatya/student-records-api/pkg/validation"
)

const dateLayout = "2006-01-02"

var (
	metricRegistered = expvar.NewInt("students_registered")
	metricUpdated    = expvar.NewInt("students_updated")
	metricRemoved    = expvar.NewInt("students_removed")
	metricConflicts  = expvar.NewInt("students_email_conflicts")
)

// EmailPublisher queues email jobs; *helpers.RabbitPublisher satisfies it.
type EmailPublisher interface {
	PublishJSON(ctx context.Context, body any) error
}

type StudentService struct {
	Store     repository.Store
	Validate  *validator.Validate
	Redis     *redis.Client
	CacheTTL  time.Duration
	Indexer   *StudentIndexer
	Mail      EmailPublisher
	GCS       *storage.Client
	GCSBucket string
	Cfg       *config.Config
	Logger    *logrus.Logger
}

func NewStudentService(store repository.Store, rdb *redis.Client, indexer *StudentIndexer, mail EmailPublisher, gcs *storage.Client, cfg *config.Config, logger *logrus.Logger) *StudentService {
	s := &StudentService{
		Store:    store,
		Validate: validation.New(),
		Redis:    rdb,
		Indexer:  indexer,
		Mail:     mail,
		GCS:      gcs,
		Cfg:      cfg,
		Logger:   logger,
	}
	if cfg != nil {
		s.CacheTTL = cfg.StudentCacheTTL
		s.GCSBucket = cfg.GCSBucket
	}
	return s
}

// RegisterInput is the payload for creating an account together with its student profile.
type RegisterInput struct {
	Role       string `json:"rol" validate:"omitempty,max=150"`
	FirstName  string `json:"first_name" validate:"required,max=150"`
	LastName   string `json:"last_name" validate:"required,max=150"`
	Email      string `json:"email" validate:"required,email,max=254"`
	Password   string `json:"password" validate:"required,pwd"`
	Enrollment string `json:"matricula" validate:"required,max=50"`
	NationalID string `json:"curp" validate:"required,curp"`
	TaxID      string `json:"rfc" validate:"required,rfc"`
	BirthDate  string `json:"fecha_nacimiento" validate:"required,date"`
	Age        *int   `json:"edad" validate:"required,gte=0,lte=150"`
	Phone      string `json:"telefono" validate:"max=20"`
	Occupation string `json:"ocupacion" validate:"max=100"`
}

// UpdateInput holds a partial update; nil fields are left untouched.
type UpdateInput struct {
	FirstName  *string `json:"first_name" validate:"omitempty,max=150"`
	LastName   *string `json:"last_name" validate:"omitempty,max=150"`
	Email      *string `json:"email" validate:"omitempty,email,max=254"`
	Enrollment *string `json:"matricula" validate:"omitempty,max=50"`
	NationalID *string `json:"curp" validate:"omitempty,curp"`
	TaxID      *string `json:"rfc" validate:"omitempty,rfc"`
	BirthDate  *string `json:"fecha_nacimiento" validate:"omitempty,date"`
	Age        *int    `json:"edad" validate:"omitempty,gte=0,lte=150"`
	Phone      *string `json:"telefono" validate:"omitempty,max=20"`
	Occupation *string `json:"ocupacion" validate:"omitempty,max=100"`
}

// cacheGenTTL outlives any in-flight read by a wide margin.
const cacheGenTTL = 24 * time.Hour

var errStaleCache = errors.New("stale cache fill")

func cacheKey(id int64) string {
	return "student:" + strconv.FormatInt(id, 10)
}

func cacheGenKey(id int64) string {
	return cacheKey(id) + ":gen"
}

func (s *StudentService) validate(in any) error {
	if err := s.Validate.Struct(in); err != nil {
		return &ValidationError{Fields: validation.ToDetails(err)}
	}
	return nil
}

func (s *StudentService) defaultGroup() string {
	if s.Cfg != nil && s.Cfg.DefaultStudentGroup != "" {
		return s.Cfg.DefaultStudentGroup
	}
	return "alumno"
}

// ListActive returns the profiles of active accounts ordered by id.
func (s *StudentService) ListActive(ctx context.Context) ([]entity.Student, error) {
	students, err := s.Store.Students().ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active students: %w", err)
	}
	for i := range students {
		scrub(&students[i])
	}
	return students, nil
}

// GetByID returns a single profile, served from Redis when cached.
func (s *StudentService) GetByID(ctx context.Context, id int64) (*entity.Student, error) {
	if s.Redis != nil {
		var cached entity.Student
		if ok, err := helpers.RedisGetJSON(ctx, s.Redis, cacheKey(id), &cached); err == nil && ok {
			return &cached, nil
		} else if err != nil && s.Logger != nil {
			s.Logger.WithError(err).WithField("student_id", id).Warn("student cache read failed")
		}
	}

	// the generation is read before the row so a writer committing in between
	// keeps this copy out of the cache
	gen, genErr := int64(0), error(nil)
	if s.Redis != nil && s.CacheTTL > 0 {
		gen, genErr = s.cacheGen(ctx, id)
	}

	st, err := s.Store.Students().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrStudentNotFound
		}
		return nil, fmt.Errorf("get student %d: %w", id, err)
	}
	scrub(st)

	if s.Redis != nil && s.CacheTTL > 0 && genErr == nil {
		if err := s.fillCache(ctx, id, st, gen); err != nil && s.Logger != nil {
			s.Logger.WithError(err).WithField("student_id", id).Warn("student cache write failed")
		}
	}
	return st, nil
}

// cacheGen returns the cache generation of a profile. Writers bump it on
// every invalidation; a missing key is generation 0.
func (s *StudentService) cacheGen(ctx context.Context, id int64) (int64, error) {
	n, err := s.Redis.Get(ctx, cacheGenKey(id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// fillCache stores st only if the generation is still gen.
func (s *StudentService) fillCache(ctx context.Context, id int64, st *entity.Student, gen int64) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	genKey := cacheGenKey(id)
	err = s.Redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStaleCache
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, cacheKey(id), b, s.CacheTTL)
			return nil
		})
		return err
	}, genKey)
	if errors.Is(err, errStaleCache) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

// Register creates the account, attaches it to its role group and creates the
// student profile in one transaction. It returns the new profile id.
func (s *StudentService) Register(ctx context.Context, in RegisterInput) (int64, error) {
	if err := s.validate(in); err != nil {
		return 0, err
	}
	birth, err := time.Parse(dateLayout, in.BirthDate)
	if err != nil {
		return 0, &ValidationError{Fields: map[string]string{"fecha_nacimiento": "must be a date formatted as YYYY-MM-DD"}}
	}

	if _, err := s.Store.Accounts().GetByEmail(ctx, in.Email); err == nil {
		metricConflicts.Add(1)
		return 0, ErrEmailTaken
	} else if !errors.Is(err, repository.ErrNotFound) {
		return 0, fmt.Errorf("lookup account: %w", err)
	}

	hash, err := helpers.HashPassword(in.Password)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	role := strings.TrimSpace(in.Role)
	if role == "" {
		role = s.defaultGroup()
	}

	var student *entity.Student
	err = s.Store.WithTx(ctx, func(tx repository.Store) error {
		acc := &entity.Account{
			Username:  in.Email,
			Email:     in.Email,
			FirstName: in.FirstName,
			LastName:  in.LastName,
			Password:  hash,
			IsActive:  true,
		}
		if err := tx.Accounts().Create(ctx, acc); err != nil {
			return err
		}

		group, err := tx.Accounts().GetOrCreateGroup(ctx, role)
		if err != nil {
			return err
		}
		if err := tx.Accounts().AddMember(ctx, group.ID, acc.ID); err != nil {
			return err
		}
		acc.Groups = []string{group.Name}

		st := &entity.Student{
			AccountID:  acc.ID,
			Enrollment: in.Enrollment,
			NationalID: in.NationalID,
			TaxID:      in.TaxID,
			BirthDate:  birth,
			Age:        *in.Age,
			Phone:      in.Phone,
			Occupation: in.Occupation,
		}
		st.NormalizeIDs()
		if err := tx.Students().Create(ctx, st); err != nil {
			return err
		}
		st.Account = acc

		if err := tx.Audit().Record(ctx, auditEntry(ctx, acc, "student_register", map[string]any{
			"student_id": st.ID,
			"group":      group.Name,
		})); err != nil {
			return err
		}
		student = st
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			metricConflicts.Add(1)
			return 0, ErrEmailTaken
		}
		return 0, fmt.Errorf("register student: %w", err)
	}

	metricRegistered.Add(1)
	scrub(student)
	_ = s.Indexer.IndexStudent(ctx, student)
	s.enqueueEmail(ctx, student.Account.Email, mailtpl.StudentWelcome, mailtpl.NewStudentWelcomeData(
		s.Cfg,
		student.Account.FullName(),
		student.Account.Email,
		mailtpl.WithEnrollment(student.Enrollment),
		mailtpl.WithGroup(role),
		mailtpl.WithTime(time.Now()),
	))

	if s.Logger != nil {
		s.Logger.WithFields(logrus.Fields{"student_id": student.ID, "account_id": student.AccountID, "group": role}).Info("student registered")
	}
	return student.ID, nil
}

// Update applies a partial update to the profile and mirrors name/email
// changes onto the owning account.
func (s *StudentService) Update(ctx context.Context, id int64, in UpdateInput) (*entity.Student, error) {
	if err := s.validate(in); err != nil {
		return nil, err
	}

	var (
		updated *entity.Student
		changes map[string]string
	)
	err := s.Store.WithTx(ctx, func(tx repository.Store) error {
		st, err := tx.Students().GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrStudentNotFound
			}
			return err
		}
		acc, err := tx.Accounts().GetByID(ctx, st.AccountID)
		if err != nil {
			return err
		}

		changes, err = applyUpdate(st, acc, in)
		if err != nil {
			return err
		}

		if err := tx.Accounts().Update(ctx, acc); err != nil {
			return err
		}
		if err := tx.Students().Update(ctx, st); err != nil {
			return err
		}
		st.Account = acc

		fields := make([]string, 0, len(changes))
		for k := range changes {
			fields = append(fields, k)
		}
		if err := tx.Audit().Record(ctx, auditEntry(ctx, acc, "student_update", map[string]any{
			"student_id": st.ID,
			"fields":     fields,
		})); err != nil {
			return err
		}
		updated = st
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrStudentNotFound), isValidation(err):
			return nil, err
		case errors.Is(err, repository.ErrDuplicateEmail):
			metricConflicts.Add(1)
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("update student %d: %w", id, err)
	}

	metricUpdated.Add(1)
	scrub(updated)
	s.invalidate(ctx, id)
	_ = s.Indexer.IndexStudent(ctx, updated)
	if len(changes) > 0 {
		s.enqueueEmail(ctx, updated.Account.Email, mailtpl.ProfileUpdated, mailtpl.NewProfileUpdatedData(
			s.Cfg,
			updated.Account.FullName(),
			updated.Account.Email,
			changes,
			mailtpl.WithTime(time.Now()),
			mailtpl.WithIP(requestMetaFrom(ctx).IP),
		))
	}
	return updated, nil
}

// Remove deletes the owning account; the profile goes with it. Failures other
// than a missing profile are reported as ErrDeletionFailed.
func (s *StudentService) Remove(ctx context.Context, id int64) error {
	var accountID int64
	err := s.Store.WithTx(ctx, func(tx repository.Store) error {
		st, err := tx.Students().GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrStudentNotFound
			}
			return err
		}
		accountID = st.AccountID
		if err := tx.Accounts().Delete(ctx, st.AccountID); err != nil {
			return err
		}
		return tx.Audit().Record(ctx, auditEntry(ctx, st.Account, "student_remove", map[string]any{
			"student_id": st.ID,
		}))
	})
	if err != nil {
		if errors.Is(err, ErrStudentNotFound) {
			return err
		}
		if s.Logger != nil {
			s.Logger.WithError(err).WithField("student_id", id).Error("delete student failed")
		}
		return ErrDeletionFailed
	}

	metricRemoved.Add(1)
	s.invalidate(ctx, id)
	s.dropSession(ctx, accountID)
	_ = s.Indexer.DeleteStudent(ctx, id)
	return nil
}

// Search looks students up in Elasticsearch.
func (s *StudentService) Search(ctx context.Context, q string, size int) ([]map[string]any, error) {
	return s.Indexer.Search(ctx, q, size)
}

// UploadPhoto stores the photo in GCS and saves its public URL on the profile.
func (s *StudentService) UploadPhoto(ctx context.Context, id int64, r io.Reader, filename, contentType string) (string, error) {
	if s.GCS == nil || s.GCSBucket == "" {
		return "", ErrPhotoStorage
	}
	if _, err := s.Store.Students().GetByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrStudentNotFound
		}
		return "", fmt.Errorf("get student %d: %w", id, err)
	}

	objectPath := helpers.StudentPhotoPath(id, uuid.NewString(), filename)
	url, err := helpers.UploadObject(ctx, s.GCS, s.GCSBucket, objectPath, contentType, r)
	if err != nil {
		return "", fmt.Errorf("upload photo: %w", err)
	}

	var updated *entity.Student
	err = s.Store.WithTx(ctx, func(tx repository.Store) error {
		st, err := tx.Students().GetByID(ctx, id)
		if err != nil {
			return err
		}
		st.PhotoURL = url
		if err := tx.Students().Update(ctx, st); err != nil {
			return err
		}
		updated = st
		return tx.Audit().Record(ctx, auditEntry(ctx, st.Account, "student_photo", map[string]any{"student_id": id, "object": objectPath}))
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrStudentNotFound
		}
		return "", fmt.Errorf("save photo url: %w", err)
	}

	s.invalidate(ctx, id)
	_ = s.Indexer.IndexStudent(ctx, updated)
	return url, nil
}

func (s *StudentService) invalidate(ctx context.Context, id int64) {
	if s.Redis == nil {
		return
	}
	pipe := s.Redis.TxPipeline()
	pipe.Incr(ctx, cacheGenKey(id))
	pipe.Expire(ctx, cacheGenKey(id), cacheGenTTL)
	pipe.Del(ctx, cacheKey(id))
	if _, err := pipe.Exec(ctx); err != nil && s.Logger != nil {
		s.Logger.WithError(err).WithField("student_id", id).Warn("student cache invalidation failed")
	}
}

// dropSession ends the live session of a deleted account so its tokens stop working.
func (s *StudentService) dropSession(ctx context.Context, accountID int64) {
	if s.Redis == nil || accountID == 0 {
		return
	}
	if err := helpers.RedisDel(ctx, s.Redis, SessionKey(accountID)); err != nil && s.Logger != nil {
		s.Logger.WithError(err).WithField("account_id", accountID).Warn("session removal failed")
	}
}

func (s *StudentService) enqueueEmail(ctx context.Context, to, template string, data map[string]any) {
	if s.Mail == nil || (s.Cfg != nil && !s.Cfg.MailSendEnabled) {
		return
	}
	job := mailer.EmailJob{To: to, Template: template, Data: data}
	if err := s.Mail.PublishJSON(ctx, job); err != nil && s.Logger != nil {
		s.Logger.WithError(err).WithField("template", template).Warn("failed to publish email job")
	}
}

// applyUpdate merges the non-nil fields of in into st and acc and returns the
// changed fields keyed by their JSON name.
func applyUpdate(st *entity.Student, acc *entity.Account, in UpdateInput) (map[string]string, error) {
	changes := map[string]string{}
	setString := func(name string, dst *string, v *string) {
		if v != nil && *dst != *v {
			*dst = *v
			changes[name] = *v
		}
	}

	setString("first_name", &acc.FirstName, in.FirstName)
	setString("last_name", &acc.LastName, in.LastName)
	if in.Email != nil && acc.Email != *in.Email {
		acc.Email = *in.Email
		acc.Username = *in.Email
		changes["email"] = *in.Email
	}

	setString("matricula", &st.Enrollment, in.Enrollment)
	if in.NationalID != nil {
		setString("curp", &st.NationalID, ptr(strings.ToUpper(*in.NationalID)))
	}
	if in.TaxID != nil {
		setString("rfc", &st.TaxID, ptr(strings.ToUpper(*in.TaxID)))
	}
	if in.BirthDate != nil {
		birth, err := time.Parse(dateLayout, *in.BirthDate)
		if err != nil {
			return nil, &ValidationError{Fields: map[string]string{"fecha_nacimiento": "must be a date formatted as YYYY-MM-DD"}}
		}
		if !birth.Equal(st.BirthDate) {
			st.BirthDate = birth
			changes["fecha_nacimiento"] = *in.BirthDate
		}
	}
	if in.Age != nil && st.Age != *in.Age {
		st.Age = *in.Age
		changes["edad"] = strconv.Itoa(*in.Age)
	}
	setString("telefono", &st.Phone, in.Phone)
	setString("ocupacion", &st.Occupation, in.Occupation)
	return changes, nil
}

func auditEntry(ctx context.Context, acc *entity.Account, action string, md map[string]any) repository.AuditEntry {
	meta := requestMetaFrom(ctx)
	e := repository.AuditEntry{
		AccountID: meta.ActorID,
		Action:    action,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Metadata:  md,
	}
	if acc != nil {
		if e.AccountID == 0 {
			e.AccountID = acc.ID
		}
		e.Email = acc.Email
	}
	return e
}

// scrub drops the password hash before a student leaves the service.
func scrub(st *entity.Student) {
	if st != nil && st.Account != nil {
		st.Account.Password = ""
	}
}

func isValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func ptr[T any](v T) *T { return &v }
