package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/sentinelai/sentinel/internal/activity"
	"github.com/sentinelai/sentinel/internal/blobstore"
	"github.com/sentinelai/sentinel/internal/db"
	"github.com/sentinelai/sentinel/internal/queue"
	"github.com/sentinelai/sentinel/internal/rbac"
	"github.com/sentinelai/sentinel/internal/repository"
)

// allowedExtensions is the type-specific allow-list spec.md §4.1's upload
// validator enforces. Matching is case-insensitive on the extension only —
// the upload never inspects file content (that is the extractor/transcriber
// collaborators' job once a stage actually reads the blob).
var allowedExtensions = map[string][]string{
	"document": {".pdf", ".docx", ".doc", ".txt"},
	"audio":    {".mp3", ".wav", ".m4a", ".flac"},
	"video":    {".mp4", ".mov", ".avi", ".mkv"},
	"cdr":      {".csv"},
}

// JobHandler groups the upload and job/case read handlers. Upload is the
// only write path — everything else here is an RBAC-scoped read over
// Job/Artifact/Suspect rows maintained by the pipeline workers.
type JobHandler struct {
	db        *gorm.DB
	jobs      repository.JobRepository
	artifacts repository.ArtifactRepository
	suspects  repository.SuspectRepository
	queue     queue.Fabric
	blobs     blobstore.Store
	activity  *activity.Recorder
	logger    *zap.Logger

	maxFilesPerJob   int
	maxFileSizeBytes int64
}

// NewJobHandler creates a new JobHandler. db is used only to open the
// Job+Suspect+Artifact transaction Upload requires; every other operation
// goes through the narrow repository interfaces.
func NewJobHandler(
	gormDB *gorm.DB,
	jobs repository.JobRepository,
	artifacts repository.ArtifactRepository,
	suspects repository.SuspectRepository,
	q queue.Fabric,
	blobs blobstore.Store,
	activityRec *activity.Recorder,
	maxFilesPerJob int,
	maxFileSizeBytes int64,
	logger *zap.Logger,
) *JobHandler {
	return &JobHandler{
		db:               gormDB,
		jobs:             jobs,
		artifacts:        artifacts,
		suspects:         suspects,
		queue:            q,
		blobs:            blobs,
		activity:         activityRec,
		logger:           logger.Named("job_handler"),
		maxFilesPerJob:   maxFilesPerJob,
		maxFileSizeBytes: maxFileSizeBytes,
	}
}

// -----------------------------------------------------------------------------
// Response types
// -----------------------------------------------------------------------------

type jobResponse struct {
	ID             string  `json:"id"`
	CaseName       string  `json:"case_name"`
	Status         string  `json:"status"`
	TotalFiles     int     `json:"total_files"`
	ProcessedFiles int     `json:"processed_files"`
	FailedFiles    int     `json:"failed_files"`
	SuspectsCount  int     `json:"suspects_count"`
	Progress       float64 `json:"progress"`
	Error          string  `json:"error,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

func jobToResponse(job *db.Job, suspectsCount int) jobResponse {
	progress := 0.0
	if job.TotalFiles > 0 {
		progress = float64(job.ProcessedFiles+job.FailedFiles) / float64(job.TotalFiles)
	}
	return jobResponse{
		ID:             job.ID,
		CaseName:       job.CaseName,
		Status:         job.Status,
		TotalFiles:     job.TotalFiles,
		ProcessedFiles: job.ProcessedFiles,
		FailedFiles:    job.FailedFiles,
		SuspectsCount:  suspectsCount,
		Progress:       progress,
		Error:          job.Error,
		CreatedAt:      job.CreatedAt.UTC().String(),
		UpdatedAt:      job.UpdatedAt.UTC().String(),
	}
}

type artifactResponse struct {
	ID               string             `json:"id"`
	OriginalFilename string             `json:"original_filename"`
	MediaType        string             `json:"media_type"`
	SourceLanguage   string             `json:"source_language,omitempty"`
	Status           string             `json:"status"`
	CurrentStage     string             `json:"current_stage,omitempty"`
	StageTimings     map[string]float64 `json:"stage_timings,omitempty"`
	SummaryText      string             `json:"summary_text,omitempty"`
	Error            string             `json:"error,omitempty"`
}

func artifactToResponse(a *db.Artifact) artifactResponse {
	return artifactResponse{
		ID:               a.ID.String(),
		OriginalFilename: a.OriginalFilename,
		MediaType:        a.MediaType,
		SourceLanguage:   a.SourceLanguage,
		Status:           a.Status,
		CurrentStage:     a.CurrentStage,
		StageTimings:     a.StageTimings.Data(),
		SummaryText:      a.SummaryText,
		Error:            a.Error,
	}
}

type suspectResponse struct {
	ID     string             `json:"id"`
	Fields []db.SuspectField `json:"fields"`
}

func suspectToResponse(s *db.Suspect) suspectResponse {
	return suspectResponse{ID: s.ID.String(), Fields: s.Fields.Data()}
}

type listJobsResponse struct {
	Items []jobResponse `json:"items"`
	Total int64         `json:"total"`
}

type jobResultsResponse struct {
	Job       jobResponse        `json:"job"`
	Artifacts []artifactResponse `json:"artifacts"`
	Suspects  []suspectResponse  `json:"suspects"`
}

// -----------------------------------------------------------------------------
// Upload
// -----------------------------------------------------------------------------

// suspectInput is the JSON shape of one entry in the upload's "suspects" form field.
type suspectInput struct {
	Fields []db.SuspectField `json:"fields"`
}

// uploadResponse is the result of a successful upload, per spec.md §4.1.
type uploadResponse struct {
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	TotalFiles    int    `json:"total_files"`
	SuspectsCount int    `json:"suspects_count"`
	Message       string `json:"message"`
}

const maxCaseNameLen = 100

// Upload handles POST /api/v1/upload: the unified multi-file + suspects
// transaction described in spec.md §4.1. Parallel form arrays files[],
// media_types[], languages[] describe one artifact each; an optional
// "suspects" field carries a JSON-encoded array of suspect field sets.
//
// Validation happens entirely before any write. The Job, Suspect, and
// Artifact rows are then created atomically in one transaction (SPEC_FULL.md
// §4.5's transactional requirement); blob uploads and queue publishes happen
// afterward, outside the transaction, since neither the blobstore nor the
// queue fabric participates in relational atomicity. If a blob upload or
// publish fails partway through, the job is marked failed with a diagnostic
// and no further artifacts in the batch are published — blobs already
// written are left for internal/sweeper to reclaim.
func (h *JobHandler) Upload(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromClaims(claimsFromCtx(r.Context()))
	if !ok {
		ErrUnauthorized(w)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		ErrBadRequest(w, "invalid multipart form: "+err.Error())
		return
	}

	caseName := strings.TrimSpace(r.FormValue("case_name"))
	if caseName == "" {
		ErrUnprocessable(w, "case_name is required")
		return
	}
	if len(caseName) > maxCaseNameLen {
		ErrUnprocessable(w, fmt.Sprintf("case_name must be at most %d characters", maxCaseNameLen))
		return
	}

	files := r.MultipartForm.File["files"]
	mediaTypes := r.MultipartForm.Value["media_types"]
	languages := r.MultipartForm.Value["languages"]

	if len(files) == 0 {
		ErrUnprocessable(w, "at least one file is required")
		return
	}
	if len(files) > h.maxFilesPerJob {
		ErrUnprocessable(w, fmt.Sprintf("at most %d files are allowed per upload", h.maxFilesPerJob))
		return
	}
	if len(mediaTypes) != len(files) || len(languages) != len(files) {
		ErrUnprocessable(w, "files, media_types, and languages must have the same length")
		return
	}

	for i, header := range files {
		mediaType := mediaTypes[i]
		if _, known := allowedExtensions[mediaType]; !known {
			ErrUnprocessable(w, fmt.Sprintf("file %q: unknown media_type %q", header.Filename, mediaType))
			return
		}
		if (mediaType == "audio" || mediaType == "video") && strings.TrimSpace(languages[i]) == "" {
			ErrUnprocessable(w, fmt.Sprintf("file %q: language is required for media_type %q", header.Filename, mediaType))
			return
		}
		if header.Size > h.maxFileSizeBytes {
			ErrUnprocessable(w, fmt.Sprintf("file %q exceeds the maximum size of %d bytes", header.Filename, h.maxFileSizeBytes))
			return
		}
		ext := strings.ToLower(filepath.Ext(header.Filename))
		if !extensionAllowed(mediaType, ext) {
			ErrUnprocessable(w, fmt.Sprintf("file %q: extension %q is not allowed for media_type %q", header.Filename, ext, mediaType))
			return
		}
	}

	var suspectInputs []suspectInput
	if raw := r.FormValue("suspects"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &suspectInputs); err != nil {
			ErrBadRequest(w, "suspects: invalid JSON: "+err.Error())
			return
		}
		for _, s := range suspectInputs {
			for _, f := range s.Fields {
				if strings.TrimSpace(f.Key) == "" {
					ErrUnprocessable(w, "every suspect field must have a non-empty key")
					return
				}
			}
		}
	}

	supervisorID := identity.UserID
	if identity.SupervisorID != nil {
		supervisorID = *identity.SupervisorID
	}
	jobUUID, err := uuid.NewV7()
	if err != nil {
		h.logger.Error("generating job id", zap.Error(err))
		ErrInternal(w)
		return
	}
	jobID := supervisorID.String() + "/" + identity.UserID.String() + "/" + jobUUID.String()

	job := &db.Job{
		ID:            jobID,
		OwnerUserID:   identity.UserID,
		SupervisorID:  supervisorID,
		CaseName:      caseName,
		StoragePrefix: jobID,
		TotalFiles:    len(files),
		Status:        "queued",
	}

	artifactRows := make([]*db.Artifact, len(files))
	for i, header := range files {
		artifactRows[i] = &db.Artifact{
			JobID:            jobID,
			OriginalFilename: header.Filename,
			MediaType:        mediaTypes[i],
			SourceLanguage:   languages[i],
			Status:           "queued",
			BlobPaths:        datatypes.NewJSONType(db.BlobPaths{}),
			StageTimings:     datatypes.NewJSONType(db.StageTimings{}),
		}
	}

	txErr := h.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		txJobs := repository.NewJobRepository(tx)
		txArtifacts := repository.NewArtifactRepository(tx)
		txSuspects := repository.NewSuspectRepository(tx)

		if err := txJobs.Create(r.Context(), job); err != nil {
			return fmt.Errorf("creating job: %w", err)
		}
		for _, s := range suspectInputs {
			row := &db.Suspect{JobID: jobID, Fields: datatypes.NewJSONType(s.Fields)}
			if err := txSuspects.Create(r.Context(), row); err != nil {
				return fmt.Errorf("creating suspect: %w", err)
			}
		}
		for _, artifact := range artifactRows {
			if err := txArtifacts.Create(r.Context(), artifact); err != nil {
				return fmt.Errorf("creating artifact: %w", err)
			}
		}
		return nil
	})
	if txErr != nil {
		h.logger.Error("upload transaction failed", zap.String("job_id", jobID), zap.Error(txErr))
		ErrInternal(w)
		return
	}

	// Blob upload and queue publish happen outside the transaction. A
	// failure here marks the job failed without rolling back the rows
	// already committed — blobs already written for earlier files in the
	// batch are left for the sweeper, per spec.md §4.1's resolution.
	ctx := r.Context()
	for i, header := range files {
		if err := h.storeAndPublish(ctx, job, artifactRows[i], header); err != nil {
			h.logger.Error("post-commit upload step failed", zap.String("job_id", jobID), zap.Error(err))
			if setErr := h.jobs.SetStatus(ctx, jobID, "failed", err.Error()); setErr != nil {
				h.logger.Error("marking job failed after upload error", zap.Error(setErr))
			}
			job.Status = "failed"
			break
		}
	}

	h.activity.Record(ctx, identity.UserID, activity.KindUpload, rbac.ScopePrefix(identity), map[string]any{
		"job_id":      jobID,
		"total_files": len(files),
	})

	Created(w, uploadResponse{
		JobID:         jobID,
		Status:        job.Status,
		TotalFiles:    len(files),
		SuspectsCount: len(suspectInputs),
		Message:       "job accepted",
	})
}

// storeAndPublish uploads one artifact's original blob and publishes its
// initial work item. Kept as its own method so Upload's loop can break
// cleanly on the first failure.
func (h *JobHandler) storeAndPublish(ctx context.Context, job *db.Job, artifact *db.Artifact, header *multipart.FileHeader) error {
	file, err := header.Open()
	if err != nil {
		return fmt.Errorf("opening %s: %w", header.Filename, err)
	}
	defer file.Close()

	blobPath := job.StoragePrefix + "/" + header.Filename
	if err := h.blobs.Put(ctx, blobPath, file); err != nil {
		return fmt.Errorf("storing %s: %w", header.Filename, err)
	}
	if err := h.artifacts.SetBlobPath(ctx, artifact.ID, "original", blobPath); err != nil {
		return fmt.Errorf("recording blob path for %s: %w", header.Filename, err)
	}

	item := queue.WorkItem{
		JobID:      job.ID,
		ArtifactID: artifact.ID.String(),
		BlobPath:   blobPath,
		Filename:   header.Filename,
		MediaType:  artifact.MediaType,
	}
	if artifact.SourceLanguage != "" {
		item.Metadata = map[string]string{"language": artifact.SourceLanguage}
	}
	if err := h.queue.Publish(ctx, artifact.MediaType, item); err != nil {
		return fmt.Errorf("publishing work item for %s: %w", header.Filename, err)
	}
	return nil
}

func extensionAllowed(mediaType, ext string) bool {
	for _, allowed := range allowedExtensions[mediaType] {
		if allowed == ext {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

// List handles GET /api/v1/jobs. Scoped to the caller's RBAC prefix;
// optionally narrowed to a single case via ?case_name=.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromClaims(claimsFromCtx(r.Context()))
	if !ok {
		ErrUnauthorized(w)
		return
	}

	opts := paginationOpts(r)
	opts.JobIDPrefix = rbac.ScopePrefix(identity)
	caseName := r.URL.Query().Get("case_name")

	var (
		jobs  []db.Job
		total int64
		err   error
	)
	if caseName != "" {
		jobs, total, err = h.jobs.ListByCase(r.Context(), caseName, opts)
	} else {
		jobs, total, err = h.jobs.List(r.Context(), opts)
	}
	if err != nil {
		h.logger.Error("listing jobs", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]jobResponse, len(jobs))
	for i := range jobs {
		suspects, err := h.suspects.ListByJob(r.Context(), jobs[i].ID)
		if err != nil {
			h.logger.Error("counting suspects", zap.String("job_id", jobs[i].ID), zap.Error(err))
		}
		items[i] = jobToResponse(&jobs[i], len(suspects))
	}

	Ok(w, listJobsResponse{Items: items, Total: total})
}

// GetByID handles GET /api/v1/jobs/{supervisor_id}/{owner_id}/{job_uuid}.
func (h *JobHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromClaims(claimsFromCtx(r.Context()))
	if !ok {
		ErrUnauthorized(w)
		return
	}
	jobID, ok := jobIDParam(w, r)
	if !ok {
		return
	}
	if !rbac.CanAccessJob(identity, jobID) {
		ErrNotFound(w)
		return
	}

	job, err := h.jobs.GetByID(r.Context(), jobID)
	if err != nil {
		h.writeJobLookupError(w, jobID, err)
		return
	}

	suspects, err := h.suspects.ListByJob(r.Context(), jobID)
	if err != nil {
		h.logger.Error("counting suspects", zap.String("job_id", jobID), zap.Error(err))
	}

	h.activity.Record(r.Context(), identity.UserID, activity.KindRead, rbac.ScopePrefix(identity), map[string]any{"job_id": jobID})
	Ok(w, jobToResponse(job, len(suspects)))
}

// GetResults handles GET /api/v1/jobs/{supervisor_id}/{owner_id}/{job_uuid}/results.
func (h *JobHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromClaims(claimsFromCtx(r.Context()))
	if !ok {
		ErrUnauthorized(w)
		return
	}
	jobID, ok := jobIDParam(w, r)
	if !ok {
		return
	}
	if !rbac.CanAccessJob(identity, jobID) {
		ErrNotFound(w)
		return
	}

	job, artifacts, suspects, err := h.jobs.GetByIDWithArtifacts(r.Context(), jobID)
	if err != nil {
		h.writeJobLookupError(w, jobID, err)
		return
	}

	artifactItems := make([]artifactResponse, len(artifacts))
	for i := range artifacts {
		artifactItems[i] = artifactToResponse(&artifacts[i])
	}
	suspectItems := make([]suspectResponse, len(suspects))
	for i := range suspects {
		suspectItems[i] = suspectToResponse(&suspects[i])
	}

	h.activity.Record(r.Context(), identity.UserID, activity.KindRead, rbac.ScopePrefix(identity), map[string]any{"job_id": jobID, "view": "results"})
	Ok(w, jobResultsResponse{
		Job:       jobToResponse(job, len(suspects)),
		Artifacts: artifactItems,
		Suspects:  suspectItems,
	})
}

// ListCases handles GET /api/v1/cases.
func (h *JobHandler) ListCases(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromClaims(claimsFromCtx(r.Context()))
	if !ok {
		ErrUnauthorized(w)
		return
	}

	names, err := h.jobs.ListCaseNames(r.Context(), rbac.ScopePrefix(identity))
	if err != nil {
		h.logger.Error("listing case names", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, envelope{"cases": names})
}

// ListCaseJobs handles GET /api/v1/cases/{case_name}/jobs.
func (h *JobHandler) ListCaseJobs(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromClaims(claimsFromCtx(r.Context()))
	if !ok {
		ErrUnauthorized(w)
		return
	}
	caseName := chi.URLParam(r, "case_name")
	if caseName == "" {
		ErrBadRequest(w, "case_name is required")
		return
	}

	opts := paginationOpts(r)
	opts.JobIDPrefix = rbac.ScopePrefix(identity)

	jobs, total, err := h.jobs.ListByCase(r.Context(), caseName, opts)
	if err != nil {
		h.logger.Error("listing case jobs", zap.String("case_name", caseName), zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]jobResponse, len(jobs))
	for i := range jobs {
		suspects, err := h.suspects.ListByJob(r.Context(), jobs[i].ID)
		if err != nil {
			h.logger.Error("counting suspects", zap.String("job_id", jobs[i].ID), zap.Error(err))
		}
		items[i] = jobToResponse(&jobs[i], len(suspects))
	}

	Ok(w, listJobsResponse{Items: items, Total: total})
}

// writeJobLookupError maps a job lookup failure to its HTTP response,
// treating ErrNotFound identically to an RBAC-denied lookup so neither
// leaks whether a job exists outside the caller's scope.
func (h *JobHandler) writeJobLookupError(w http.ResponseWriter, jobID string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		ErrNotFound(w)
		return
	}
	h.logger.Error("loading job", zap.String("job_id", jobID), zap.Error(err))
	ErrInternal(w)
}
