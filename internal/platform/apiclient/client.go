// Package apiclient is the typed client for the clinic REST backend.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/citas/internal/domain/scheduling"
	"github.com/ehr/citas/internal/platform/cache"
)

// Backend paths.
const (
	PathDoctors           = "/medicos"
	PathSpecialties       = "/especialidades"
	PathAvailability      = "/horariosDisponiblesPorMedico"
	PathAppointments      = "/citas"
	PathPatients          = "/pacientes"
	PathCreateAppointment = "/crearCitas"
	PathUpdateAppointment = "/editarCitas/"

	DefaultAvailabilityCreatePath = "/crearHorarios"
)

const maxErrorBody = 2048

// APIError is a non-2xx reply from the backend.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s %s: backend returned %d", e.Method, e.Path, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// UpstreamStatus exposes the backend status code to callers that cannot
// import this package.
func (e *APIError) UpstreamStatus() int { return e.StatusCode }

// Temporary reports whether a retry may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// TokenSource returns the bearer token to forward for a request.
type TokenSource func(ctx context.Context) string

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithStaticToken sets a token used when the request context carries none.
func WithStaticToken(token string) Option {
	return func(c *Client) { c.staticToken = token }
}

// WithTokenSource sets where per-request tokens come from.
func WithTokenSource(src TokenSource) Option {
	return func(c *Client) { c.tokenSource = src }
}

// WithMaxRetries bounds retries of idempotent reads.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithCache enables caching of doctors and specialties.
func WithCache(store cache.Store, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = store
		c.cacheTTL = ttl
	}
}

// WithAvailabilityCreatePath overrides the availability publish endpoint.
func WithAvailabilityCreatePath(path string) Option {
	return func(c *Client) { c.availabilityCreatePath = path }
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Client talks to the clinic backend. It is safe for concurrent use.
type Client struct {
	baseURL                string
	httpClient             *http.Client
	staticToken            string
	tokenSource            TokenSource
	maxRetries             int
	cache                  cache.Store
	cacheTTL               time.Duration
	availabilityCreatePath string
	logger                 zerolog.Logger
	newBackOff             func() backoff.BackOff
}

// New creates a Client for the backend rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:                strings.TrimRight(baseURL, "/"),
		httpClient:             &http.Client{Timeout: 10 * time.Second},
		maxRetries:             3,
		availabilityCreatePath: DefaultAvailabilityCreatePath,
		logger:                 zerolog.Nop(),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 15 * time.Second
			return b
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Doctors lists every doctor. The list is cached when a cache is configured.
func (c *Client) Doctors(ctx context.Context) ([]scheduling.Doctor, error) {
	body, err := c.getCached(ctx, PathDoctors)
	if err != nil {
		return nil, err
	}
	var wire []wireDoctor
	if err := decodeList(body, &wire); err != nil {
		return nil, fmt.Errorf("decoding doctors: %w", err)
	}
	out := make([]scheduling.Doctor, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toDomain())
	}
	return out, nil
}

// Specialties lists every specialty. The list is cached when a cache is
// configured.
func (c *Client) Specialties(ctx context.Context) ([]scheduling.Specialty, error) {
	body, err := c.getCached(ctx, PathSpecialties)
	if err != nil {
		return nil, err
	}
	var wire []wireSpecialty
	if err := decodeList(body, &wire); err != nil {
		return nil, fmt.Errorf("decoding specialties: %w", err)
	}
	out := make([]scheduling.Specialty, 0, len(wire))
	for _, w := range wire {
		out = append(out, scheduling.Specialty{ID: w.ID.String(), Name: strings.TrimSpace(w.Nombre)})
	}
	return out, nil
}

// Patients lists every patient.
func (c *Client) Patients(ctx context.Context) ([]scheduling.Patient, error) {
	body, err := c.get(ctx, PathPatients)
	if err != nil {
		return nil, err
	}
	var wire []wirePatient
	if err := decodeList(body, &wire); err != nil {
		return nil, fmt.Errorf("decoding patients: %w", err)
	}
	out := make([]scheduling.Patient, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toDomain())
	}
	return out, nil
}

// Availability returns the raw availability feed of all doctors.
func (c *Client) Availability(ctx context.Context) ([]scheduling.AvailabilityRecord, error) {
	body, err := c.get(ctx, PathAvailability)
	if err != nil {
		return nil, err
	}
	var records []scheduling.AvailabilityRecord
	if err := decodeList(body, &records); err != nil {
		return nil, fmt.Errorf("decoding availability: %w", err)
	}
	return records, nil
}

// Appointments lists the appointments visible to the caller.
func (c *Client) Appointments(ctx context.Context) ([]scheduling.Appointment, error) {
	body, err := c.get(ctx, PathAppointments)
	if err != nil {
		return nil, err
	}
	var wire []wireAppointment
	if err := decodeList(body, &wire); err != nil {
		return nil, fmt.Errorf("decoding appointments: %w", err)
	}
	out := make([]scheduling.Appointment, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toDomain())
	}
	return out, nil
}

// CreateAppointment posts a new appointment. Fields missing from the reply
// are filled from the input.
func (c *Client) CreateAppointment(ctx context.Context, in scheduling.AppointmentInput) (scheduling.Appointment, error) {
	body, err := c.send(ctx, http.MethodPost, PathCreateAppointment, in)
	if err != nil {
		return scheduling.Appointment{}, err
	}
	return c.appointmentReply(body, "", in), nil
}

// UpdateAppointment replaces the appointment with the given id.
func (c *Client) UpdateAppointment(ctx context.Context, id string, in scheduling.AppointmentInput) (scheduling.Appointment, error) {
	body, err := c.send(ctx, http.MethodPut, PathUpdateAppointment+url.PathEscape(id), in)
	if err != nil {
		return scheduling.Appointment{}, err
	}
	return c.appointmentReply(body, id, in), nil
}

// CreateAvailability publishes one weekly availability range.
func (c *Client) CreateAvailability(ctx context.Context, in scheduling.AvailabilityInput) error {
	_, err := c.send(ctx, http.MethodPost, c.availabilityCreatePath, in)
	return err
}

func (c *Client) appointmentReply(body []byte, id string, in scheduling.AppointmentInput) scheduling.Appointment {
	w, err := decodeAppointment(body)
	if err != nil {
		c.logger.Debug().Err(err).Msg("unparseable appointment reply")
	}
	a := w.toDomain()
	if a.ID == "" {
		a.ID = id
	}
	if a.DoctorID == "" {
		a.DoctorID = in.DoctorID
	}
	if a.PatientID == "" {
		a.PatientID = in.PatientID
	}
	if a.Date == "" {
		a.Date = in.Date
	}
	if a.Time == "" {
		a.Time = in.Time
	}
	if a.Status == "" {
		a.Status = in.Status
	}
	if a.Notes == "" {
		a.Notes = in.Notes
	}
	return a
}

// getCached serves path from the cache when possible. Only successful
// replies are stored.
func (c *Client) getCached(ctx context.Context, path string) ([]byte, error) {
	if c.cache == nil {
		return c.get(ctx, path)
	}
	key := "api:" + path
	if body, ok := c.cache.Get(ctx, key); ok {
		return body, nil
	}
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	c.cache.Set(ctx, key, body, c.cacheTTL)
	return body, nil
}

// get performs an idempotent read, retrying network errors, 5xx and 429
// with exponential backoff.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	var body []byte
	attempt := 0
	op := func() error {
		attempt++
		b, err := c.do(ctx, http.MethodGet, path, nil)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && !apiErr.Temporary() {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		body = b
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.maxRetries)), ctx)
	notify := func(err error, wait time.Duration) {
		c.logger.Warn().Err(err).Str("path", path).Int("attempt", attempt).Dur("wait", wait).Msg("retrying backend read")
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}
	return body, nil
}

// send performs a single non-idempotent write with a JSON body.
func (c *Client) send(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", path, err)
	}
	return c.do(ctx, method, path, data)
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("building %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.token(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s %s: %w", method, path, err)
	}
	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("backend call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: msg}
	}
	return body, nil
}

func (c *Client) token(ctx context.Context) string {
	if c.tokenSource != nil {
		if t := c.tokenSource(ctx); t != "" {
			return t
		}
	}
	return c.staticToken
}
