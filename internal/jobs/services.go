package jobs

import (
	"net/http"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
)

// Endpoints — адреса job-сервисов по стадиям. Пустой адрес — сервис не настроен.
type Endpoints struct {
	IdentityResolution string `yaml:"identity_resolution"`
	DatasetImport      string `yaml:"dataset_import"`
	TrainModel         string `yaml:"train_model"`
	VersionModel       string `yaml:"version_model"`
	BatchInference     string `yaml:"batch_inference"`
}

// Options — общие параметры клиентов.
type Options struct {
	Timeout    time.Duration
	Headers    map[string]string
	HTTPClient *http.Client
}

// NewServices создаёт клиентов только для настроенных адресов.
// Для остальных поле остаётся nil, и сборка pipeline с такой
// стадией вернёт ошибку конфигурации.
func NewServices(ep Endpoints, opts Options) engine.Services {
	var svcs engine.Services

	if c := newClient(domain.JobKindIdentityResolution, ep.IdentityResolution, opts); c != nil {
		svcs.IdentityResolution = c
	}
	if c := newClient(domain.JobKindDatasetImport, ep.DatasetImport, opts); c != nil {
		svcs.DatasetImport = c
	}
	if c := newClient(domain.JobKindModelTraining, ep.TrainModel, opts); c != nil {
		svcs.TrainModel = c
	}
	if c := newClient(domain.JobKindModelVersion, ep.VersionModel, opts); c != nil {
		svcs.VersionModel = c
	}
	if c := newClient(domain.JobKindBatchInference, ep.BatchInference, opts); c != nil {
		svcs.BatchInference = c
	}
	return svcs
}

func newClient(kind domain.JobKind, baseURL string, opts Options) *Client {
	if baseURL == "" {
		return nil
	}
	return New(Config{
		Kind:       kind,
		BaseURL:    baseURL,
		Timeout:    opts.Timeout,
		Headers:    opts.Headers,
		HTTPClient: opts.HTTPClient,
	})
}
