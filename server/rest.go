// Copyright 2020 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorse-io/hybrid/base/log"
	"github.com/gorse-io/hybrid/config"
	"github.com/gorse-io/hybrid/logics"
	"github.com/juju/errors"
	"github.com/juju/ratelimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	MIME_HTML = "text/html"

	shutdownMessage = "Server shutting down..."
)

const indexPage = `<!DOCTYPE html>
<html>
<head><title>Hybrid Recommender</title></head>
<body>
<h1>Hybrid Recommendation Server is running</h1>
<p>POST /recommend to rank movies for a user.</p>
<p>Models fitted at %s.</p>
</body>
</html>
`

const recommendPage = `<!DOCTYPE html>
<html>
<head><title>Hybrid Recommender</title></head>
<body>
<h1>Recommend movies</h1>
<p>Send a POST request with a JSON body to this endpoint:</p>
<pre>{"userId": 1, "movieIds": [1, 3], "genres_lists": [["Adventure", "Comedy"], ["Comedy", "Romance"]]}</pre>
<p>The response is a list of {"movieId", "score"} sorted by score in descending order.
Add the query parameter n to return the top n movies only.</p>
</body>
</html>
`

// ServerState is the life cycle state of a server.
type ServerState int32

const (
	StateActive ServerState = iota
	StateStopped
)

func (state ServerState) String() string {
	switch state {
	case StateActive:
		return "ACTIVE"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("ServerState(%d)", int32(state))
	}
}

// RecommendRequest is the body of POST /recommend. movieIds and genres_lists
// are paired by position.
type RecommendRequest struct {
	UserId      *int       `json:"userId" validate:"required"`
	MovieIds    []int      `json:"movieIds" validate:"required"`
	GenresLists [][]string `json:"genres_lists" validate:"required"`
}

type Status struct {
	Status string `json:"status"`
}

// RestServer implements a REST-ful API server.
type RestServer struct {
	Config     *config.Config
	WebService *restful.WebService

	predictor atomic.Pointer[logics.Predictor]
	state     atomic.Int32
	stopped   chan struct{}
	stopOnce  sync.Once
	bucket    *ratelimit.Bucket
	validate  *validator.Validate
}

// NewRestServer creates a server in the ACTIVE state. The predictor may be
// nil until SetPredictor is called, during which requests are refused.
func NewRestServer(cfg *config.Config, predictor *logics.Predictor) *RestServer {
	s := &RestServer{
		Config:   cfg,
		stopped:  make(chan struct{}),
		validate: validator.New(),
	}
	if cfg.Server.RateLimit > 0 {
		s.bucket = ratelimit.NewBucketWithRate(cfg.Server.RateLimit, max(cfg.Server.RateBurst, 1))
	}
	s.SetPredictor(predictor)
	StateGauge.Set(float64(StateActive))
	return s
}

// SetPredictor replaces the predictor used by subsequent requests. Requests
// in flight keep the predictor they started with.
func (s *RestServer) SetPredictor(predictor *logics.Predictor) {
	s.predictor.Store(predictor)
	if predictor != nil {
		FitTimestamp.Set(float64(predictor.FitTime().Unix()))
	}
}

func (s *RestServer) Predictor() *logics.Predictor {
	return s.predictor.Load()
}

func (s *RestServer) State() ServerState {
	return ServerState(s.state.Load())
}

// Stop switches the server to STOPPED. It returns false if the server has
// been stopped already.
func (s *RestServer) Stop() bool {
	if !s.state.CompareAndSwap(int32(StateActive), int32(StateStopped)) {
		return false
	}
	StateGauge.Set(float64(StateStopped))
	s.stopOnce.Do(func() { close(s.stopped) })
	log.Logger().Info("server stopped")
	return true
}

// Stopped is closed once the server is stopped.
func (s *RestServer) Stopped() <-chan struct{} {
	return s.stopped
}

// CreateWebService creates web service.
func (s *RestServer) CreateWebService() {
	ws := s.WebService
	if ws == nil {
		ws = new(restful.WebService)
		s.WebService = ws
	}
	ws.Consumes(restful.MIME_JSON).Produces(restful.MIME_JSON)
	ws.Path("/")
	ws.Filter(RequestIdFilter)
	ws.Filter(LogFilter)
	ws.Filter(s.RateLimitFilter)
	ws.Filter(s.StateFilter)

	ws.Route(ws.GET("/").To(s.getIndex).
		Doc("Check whether the server is running.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"status"}).
		Produces(MIME_HTML))
	ws.Route(ws.GET("/recommend").To(s.getRecommend).
		Doc("Show the usage of recommendation.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Produces(MIME_HTML))
	ws.Route(ws.POST("/recommend").To(s.postRecommend).
		Doc("Rank candidate movies for a user.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Param(ws.QueryParameter("n", "number of returned movies, all if absent").DataType("integer")).
		Reads(RecommendRequest{}).
		Returns(http.StatusOK, "OK", []logics.HybridScore{}).
		Returns(http.StatusBadRequest, "malformed request", nil).
		Returns(http.StatusServiceUnavailable, "server stopped or deadline exceeded", nil).
		Writes([]logics.HybridScore{}))
	ws.Route(ws.POST("/shutdown").To(s.postShutdown).
		Doc("Stop accepting requests and shut down after in-flight requests complete.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"status"}).
		Consumes("*/*").
		Writes(Status{}))
}

// Handler creates the HTTP handler serving the web service, the OpenAPI
// document and Prometheus metrics.
func (s *RestServer) Handler() http.Handler {
	if s.WebService == nil {
		s.CreateWebService()
	}
	container := restful.NewContainer()
	container.Add(s.WebService)
	specConfig := restfulspec.Config{
		WebServices: []*restful.WebService{s.WebService},
		APIPath:     "/apidocs.json",
	}
	container.Add(restfulspec.NewOpenAPIService(specConfig))
	container.Handle("/metrics", promhttp.Handler())
	return container
}

// RequestIdFilter tags every response with the request id from the client or a new one.
func RequestIdFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	requestId := req.HeaderParameter("X-Request-ID")
	if requestId == "" {
		requestId = uuid.New().String()
	}
	resp.Header().Set("X-Request-ID", requestId)
	chain.ProcessFilter(req, resp)
}

func LogFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	start := time.Now()
	chain.ProcessFilter(req, resp)
	RequestsTotal.WithLabelValues(req.Request.Method, req.SelectedRoutePath(), strconv.Itoa(resp.StatusCode())).Inc()
	log.ResponseLogger(resp).Info(fmt.Sprintf("%s %s", req.Request.Method, req.Request.URL),
		zap.Int("status_code", resp.StatusCode()),
		zap.Duration("latency", time.Since(start)))
}

// RateLimitFilter refuses requests beyond the configured rate.
func (s *RestServer) RateLimitFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	if s.bucket != nil && s.bucket.TakeAvailable(1) == 0 {
		TooManyRequests(resp, errors.New("rate limit exceeded"))
		return
	}
	chain.ProcessFilter(req, resp)
}

// StateFilter refuses requests once the server is stopped or before a
// predictor is ready.
func (s *RestServer) StateFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	if s.State() == StateStopped {
		ServiceUnavailable(resp, errors.New("server is shutting down"))
		return
	}
	if s.Predictor() == nil {
		ServiceUnavailable(resp, errors.New("predictor is not ready"))
		return
	}
	chain.ProcessFilter(req, resp)
}

func (s *RestServer) getIndex(_ *restful.Request, response *restful.Response) {
	HTML(response, fmt.Sprintf(indexPage, s.Predictor().FitTime().Format(time.RFC3339)))
}

func (s *RestServer) getRecommend(_ *restful.Request, response *restful.Response) {
	HTML(response, recommendPage)
}

func (s *RestServer) postRecommend(request *restful.Request, response *restful.Response) {
	start := time.Now()
	var body RecommendRequest
	if err := request.ReadEntity(&body); err != nil {
		BadRequest(response, errors.NewNotValid(err, "malformed request body"))
		return
	}
	if err := s.validate.Struct(body); err != nil {
		BadRequest(response, errors.NewNotValid(err, "missing field"))
		return
	}
	n, err := ParseInt(request, "n", 0)
	if err != nil {
		BadRequest(response, err)
		return
	}
	ctx := request.Request.Context()
	if s.Config.Server.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Config.Server.RequestTimeout)
		defer cancel()
	}
	scores, err := s.Predictor().Recommend(ctx, *body.UserId, body.MovieIds, body.GenresLists, n)
	switch {
	case errors.Is(err, errors.NotValid):
		BadRequest(response, err)
		return
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		ServiceUnavailable(response, err)
		return
	case err != nil:
		InternalServerError(response, err)
		return
	}
	RecommendCandidates.Observe(float64(len(body.MovieIds)))
	RecommendSeconds.Observe(time.Since(start).Seconds())
	Ok(response, scores)
}

func (s *RestServer) postShutdown(_ *restful.Request, response *restful.Response) {
	Ok(response, Status{Status: shutdownMessage})
	s.Stop()
}

// ParseInt parses an optional integer query parameter.
func ParseInt(request *restful.Request, name string, fallback int) (int, error) {
	valueString := request.QueryParameter(name)
	if valueString == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(valueString)
	if err != nil {
		return 0, errors.NewNotValid(err, fmt.Sprintf("invalid query parameter %s", name))
	}
	return value, nil
}

// BadRequest returns a bad request error.
func BadRequest(response *restful.Response, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	log.ResponseLogger(response).Error("bad request", zap.Error(err))
	if err = response.WriteError(http.StatusBadRequest, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// InternalServerError returns a internal server error.
func InternalServerError(response *restful.Response, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	log.ResponseLogger(response).Error("internal server error", zap.Error(err))
	if err = response.WriteError(http.StatusInternalServerError, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// ServiceUnavailable returns a service unavailable error.
func ServiceUnavailable(response *restful.Response, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	log.ResponseLogger(response).Warn("service unavailable", zap.Error(err))
	if err = response.WriteError(http.StatusServiceUnavailable, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// TooManyRequests returns a too many requests error.
func TooManyRequests(response *restful.Response, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	if err = response.WriteError(http.StatusTooManyRequests, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// Ok sends the content as JSON to the client.
func Ok(response *restful.Response, content interface{}) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	if err := response.WriteAsJson(content); err != nil {
		log.ResponseLogger(response).Error("failed to write json", zap.Error(err))
	}
}

// HTML returns a html page.
func HTML(response *restful.Response, content string) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	response.Header().Set("Content-Type", MIME_HTML+"; charset=utf-8")
	response.WriteHeader(http.StatusOK)
	if _, err := response.Write([]byte(content)); err != nil {
		log.ResponseLogger(response).Error("failed to write html", zap.Error(err))
	}
}
