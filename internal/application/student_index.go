package application

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/student-records-api/internal/domain/entity"
)

// StudentsIndexMapping is applied when the students index is created.
const StudentsIndexMapping = `{
  "mappings": {
    "properties": {
      "id":          {"type": "long"},
      "email":       {"type": "keyword"},
      "name":        {"type": "text"},
      "matricula":   {"type": "keyword"},
      "curp":        {"type": "keyword"},
      "rfc":         {"type": "keyword"},
      "ocupacion":   {"type": "text"},
      "is_active":   {"type": "boolean"},
      "updated_at":  {"type": "date"}
    }
  }
}`

// StudentIndexer mirrors student profiles into Elasticsearch. A nil indexer or
// client turns every call into a no-op.
type StudentIndexer struct {
	ES     *elasticsearch.Client
	Index  string
	Logger *logrus.Logger
}

func NewStudentIndexer(es *elasticsearch.Client, index string, logger *logrus.Logger) *StudentIndexer {
	return &StudentIndexer{ES: es, Index: index, Logger: logger}
}

func (ix *StudentIndexer) enabled() bool {
	return ix != nil && ix.ES != nil && ix.Index != ""
}

func studentDocument(st *entity.Student) map[string]any {
	doc := map[string]any{
		"id":         st.ID,
		"matricula":  st.Enrollment,
		"curp":       st.NationalID,
		"rfc":        st.TaxID,
		"ocupacion":  st.Occupation,
		"updated_at": st.UpdatedAt.Format(time.RFC3339Nano),
	}
	if a := st.Account; a != nil {
		doc["email"] = a.Email
		doc["name"] = a.FullName()
		doc["is_active"] = a.IsActive
	}
	return doc
}

func (ix *StudentIndexer) IndexStudent(ctx context.Context, st *entity.Student) error {
	if !ix.enabled() {
		return nil
	}
	b, err := json.Marshal(studentDocument(st))
	if err != nil {
		return err
	}
	req := esapi.IndexRequest{
		Index:      ix.Index,
		DocumentID: strconv.FormatInt(st.ID, 10),
		Body:       strings.NewReader(string(b)),
		Refresh:    "false",
	}
	c, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := req.Do(c, ix.ES)
	if err != nil {
		ix.warn(err, st.ID, "es index failed")
		return err
	}
	defer func() { _ = res.Body.Close() }()
	if res.IsError() {
		err := fmt.Errorf("es index: %s", res.Status())
		ix.warn(err, st.ID, "es index response error")
		return err
	}
	return nil
}

func (ix *StudentIndexer) DeleteStudent(ctx context.Context, id int64) error {
	if !ix.enabled() {
		return nil
	}
	req := esapi.DeleteRequest{Index: ix.Index, DocumentID: strconv.FormatInt(id, 10)}
	c, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := req.Do(c, ix.ES)
	if err != nil {
		ix.warn(err, id, "es delete failed")
		return err
	}
	defer func() { _ = res.Body.Close() }()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		err := fmt.Errorf("es delete: %s", res.Status())
		ix.warn(err, id, "es delete response error")
		return err
	}
	return nil
}

// Search runs a multi_match over name, email, enrollment and official ids.
// Only active students are returned.
func (ix *StudentIndexer) Search(ctx context.Context, q string, size int) ([]map[string]any, error) {
	if !ix.enabled() {
		return []map[string]any{}, nil
	}
	if size <= 0 || size > 50 {
		size = 10
	}
	query := map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must": map[string]any{
					"multi_match": map[string]any{
						"query":  q,
						"fields": []string{"name^2", "email^2", "matricula", "curp", "rfc", "ocupacion"},
					},
				},
				"filter": map[string]any{"term": map[string]any{"is_active": true}},
			},
		},
		"size": size,
	}
	b, _ := json.Marshal(query)

	c, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	res, err := ix.ES.Search(ix.ES.Search.WithContext(c), ix.ES.Search.WithIndex(ix.Index), ix.ES.Search.WithBody(strings.NewReader(string(b))))
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()
	if res.IsError() {
		return nil, fmt.Errorf("es search: %s", res.Status())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source map[string]any `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}

func (ix *StudentIndexer) warn(err error, id int64, msg string) {
	if ix.Logger != nil {
		ix.Logger.WithError(err).WithField("student_id", id).Warn(msg)
	}
}
