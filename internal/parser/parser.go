// Package parser turns stored resume attachments into structured candidate
// profiles using a generative model.
package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"resume-mail-import/internal/model"
	"resume-mail-import/internal/storage"
)

// ParseRequest identifies the resume to parse and the posting it applies to
type ParseRequest struct {
	ResumeID string
	RunID    string
	Job      *model.JobPosting
}

// ResumeParser parses one resume. A nil error means the parsed profile was stored.
type ResumeParser interface {
	ParseResume(ctx context.Context, req ParseRequest) error
}

// ResumeStore is the slice of the repository the parser needs
type ResumeStore interface {
	GetResume(ctx context.Context, id string) (*model.Resume, error)
	SaveParsedResume(ctx context.Context, id string, parsed datatypes.JSON, now time.Time) error
}

// Document is the resume content handed to the model: either raw bytes with a
// MIME type the model accepts, or extracted text
type Document struct {
	MIMEType string
	Data     []byte
	Text     string
}

// Generator produces a JSON document from a prompt and a resume document
type Generator interface {
	GenerateJSON(ctx context.Context, prompt string, doc Document) (string, error)
}

// ModelParser parses resumes with a Generator and stores the result on the resume row
type ModelParser struct {
	resumes   ResumeStore
	files     storage.AttachmentStore
	generator Generator
	now       func() time.Time
}

func NewModelParser(resumes ResumeStore, files storage.AttachmentStore, generator Generator) *ModelParser {
	return &ModelParser{
		resumes:   resumes,
		files:     files,
		generator: generator,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (p *ModelParser) ParseResume(ctx context.Context, req ParseRequest) error {
	resume, err := p.resumes.GetResume(ctx, req.ResumeID)
	if err != nil {
		return fmt.Errorf("failed to load resume: %w", err)
	}

	data, err := p.files.Get(ctx, resume.StorageKey)
	if err != nil {
		return fmt.Errorf("failed to read attachment: %w", err)
	}

	doc, err := BuildDocument(resume.Filename, resume.ContentType, data)
	if err != nil {
		return err
	}

	out, err := p.generator.GenerateJSON(ctx, BuildPrompt(req.Job), doc)
	if err != nil {
		return fmt.Errorf("failed to generate profile: %w", err)
	}
	out = cleanJSONBlock(out)
	if !json.Valid([]byte(out)) {
		return fmt.Errorf("model returned invalid JSON")
	}

	if err := p.resumes.SaveParsedResume(ctx, resume.ID, datatypes.JSON(out), p.now()); err != nil {
		return fmt.Errorf("failed to store parsed resume: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"resume_id": resume.ID,
		"run_id":    req.RunID,
	}).Debug("Resume parsed")
	return nil
}

// BuildPrompt asks for a fixed profile shape scored against the job posting
func BuildPrompt(job *model.JobPosting) string {
	var b strings.Builder
	b.WriteString("Extract the candidate profile from the attached resume and return a single JSON object with the keys ")
	b.WriteString(`"name", "email", "phone", "location", "summary", "skills" (array of strings), `)
	b.WriteString(`"experience" (array of {"company","title","start","end","highlights"}), `)
	b.WriteString(`"education" (array of {"institution","degree","year"}), `)
	b.WriteString(`"match_score" (0-100) and "match_notes". Use null for unknown values.`)
	if job != nil {
		b.WriteString("\n\nScore the match against this job posting.\nTitle: ")
		b.WriteString(job.Title)
		if job.Description != "" {
			b.WriteString("\nDescription:\n")
			b.WriteString(job.Description)
		}
	}
	return b.String()
}

func cleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
