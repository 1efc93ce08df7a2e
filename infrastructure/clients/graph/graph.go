// Package graph contains the pieces shared by the Graph-style APIs
// (Facebook, Instagram, Threads): parameter encoding, typed insights
// payloads and the two-phase container publish protocol.
package graph

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"intelliconn/domain/model"
	"intelliconn/domain/repository"
	"intelliconn/infrastructure/logger"

	"github.com/google/go-querystring/query"
)

// Values encodes a struct with `url` tags into query or form values.
func Values(p model.Platform, v interface{}) (url.Values, error) {
	vals, err := query.Values(v)
	if err != nil {
		return nil, &model.PlatformError{Kind: model.KindAdapterMisconfig, Platform: p, Message: "encode parameters", Err: err}
	}
	return vals, nil
}

// IDResponse is returned by most Graph create calls.
type IDResponse struct {
	ID     string `json:"id"`
	PostID string `json:"post_id,omitempty"`
}

// InsightsResponse is the `/insights` payload.
type InsightsResponse struct {
	Data []InsightMetric `json:"data"`
}

type InsightMetric struct {
	Name   string `json:"name"`
	Period string `json:"period"`
	Values []struct {
		Value int64 `json:"value"`
	} `json:"values"`
	TotalValue *struct {
		Value int64 `json:"value"`
	} `json:"total_value,omitempty"`
}

// Metric returns the latest value of name. ok is false when the metric is
// absent from the payload.
func (r InsightsResponse) Metric(name string) (v int64, ok bool) {
	for _, m := range r.Data {
		if m.Name != name {
			continue
		}
		if m.TotalValue != nil {
			return m.TotalValue.Value, true
		}
		if n := len(m.Values); n > 0 {
			return m.Values[n-1].Value, true
		}
		return 0, false
	}
	return 0, false
}

// Optional converts a lookup into an optional counter.
func Optional(v int64, ok bool) *int64 {
	if !ok {
		return nil
	}
	return &v
}

// PermissionsResponse is the `/me/permissions` payload.
type PermissionsResponse struct {
	Data []struct {
		Permission string `json:"permission"`
		Status     string `json:"status"`
	} `json:"data"`
}

// Granted lists the granted permissions.
func (r PermissionsResponse) Granted() []string {
	out := make([]string, 0, len(r.Data))
	for _, d := range r.Data {
		if d.Status == "granted" {
			out = append(out, d.Permission)
		}
	}
	return out
}

// ContainerStatus values reported by Instagram (status_code) and Threads (status).
const (
	ContainerFinished   = "FINISHED"
	ContainerInProgress = "IN_PROGRESS"
	ContainerError      = "ERROR"
	ContainerExpired    = "EXPIRED"
	ContainerPublished  = "PUBLISHED"
)

// ContainerKey identifies a post's container on one account.
func ContainerKey(p model.Platform, accountID, postID string) string {
	return fmt.Sprintf("container:%s:%s:%s", p, accountID, postID)
}

// TwoPhase runs create-container then publish-container. The container id is
// persisted between the phases, so a retry after a phase-2 failure reuses
// it instead of creating another container.
type TwoPhase struct {
	Platform model.Platform
	Store    repository.IContainerStore
	TTL      time.Duration
}

// Steps are the platform specific calls of one two-phase publish.
type Steps struct {
	Create func(ctx context.Context) (containerID string, err error)
	// Status may be nil when the platform needs no readiness check.
	Status func(ctx context.Context, containerID string) (string, error)
	// StatusOnReuseOnly skips Status for a container created in this attempt.
	StatusOnReuseOnly bool
	Publish           func(ctx context.Context, containerID string) (mediaID string, err error)
	// Resolve finds the media id of a container that reports PUBLISHED, which
	// happens when an earlier publish call committed but its response was lost.
	Resolve func(ctx context.Context, containerID string) (mediaID string, err error)
}

// MediaList is the edge listing of an account's media, newest first.
type MediaList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Latest returns the newest media id.
func (l MediaList) Latest(p model.Platform) (string, error) {
	if len(l.Data) == 0 || l.Data[0].ID == "" {
		return "", &model.PlatformError{Kind: model.KindUnknownPlatform, Platform: p, Message: "published container has no media on the account"}
	}
	return l.Data[0].ID, nil
}

func (t TwoPhase) Run(ctx context.Context, key string, s Steps) (string, error) {
	lg := logger.GetLogger().WithField("platform", t.Platform).WithField("container_key", key)

	containerID, reused, err := t.Store.Get(ctx, key)
	if err != nil {
		return "", &model.PlatformError{Kind: model.KindTransientNetwork, Platform: t.Platform, Message: "container store unavailable", Err: err}
	}
	if !reused {
		containerID, err = s.Create(ctx)
		if err != nil {
			return "", err
		}
		if err := t.Store.Put(ctx, key, containerID, t.TTL); err != nil {
			// Publishing without a persisted id would break idempotent retries.
			return "", &model.PlatformError{Kind: model.KindTransientNetwork, Platform: t.Platform, Message: "persist container id", Err: err}
		}
		lg.WithField("container_id", containerID).Info("Container created")
	} else {
		lg.WithField("container_id", containerID).Info("Reusing container from earlier attempt")
	}

	if s.Status != nil && (reused || !s.StatusOnReuseOnly) {
		status, err := s.Status(ctx, containerID)
		if err != nil {
			return "", err
		}
		switch status {
		case ContainerPublished:
			return t.resolvePublished(ctx, key, containerID, s)
		case ContainerInProgress:
			return "", &model.PlatformError{Kind: model.KindTransientNetwork, Platform: t.Platform, Code: status, Message: "container not ready"}
		case ContainerExpired:
			_ = t.Store.Delete(ctx, key)
			return "", &model.PlatformError{Kind: model.KindTransientNetwork, Platform: t.Platform, Code: status, Message: "container expired"}
		case ContainerError:
			_ = t.Store.Delete(ctx, key)
			return "", &model.PlatformError{Kind: model.KindContentRejected, Platform: t.Platform, Code: status, Message: "container processing failed"}
		}
	}

	mediaID, err := s.Publish(ctx, containerID)
	if err != nil {
		return "", err
	}
	if mediaID == "" {
		return "", &model.PlatformError{Kind: model.KindUnknownPlatform, Platform: t.Platform, Message: "publish returned no id"}
	}
	if err := t.Store.Delete(ctx, key); err != nil {
		lg.WithField("error", err).Warn("Unable to clear container id")
	}
	return mediaID, nil
}

// resolvePublished settles an attempt whose publish call went through
// server side. The container id stays stored until the media id is known.
func (t TwoPhase) resolvePublished(ctx context.Context, key, containerID string, s Steps) (string, error) {
	lg := logger.GetLogger().WithField("platform", t.Platform).WithField("container_id", containerID)
	if s.Resolve == nil {
		return "", &model.PlatformError{Kind: model.KindUnknownPlatform, Platform: t.Platform, Code: ContainerPublished, Message: "container already published"}
	}
	mediaID, err := s.Resolve(ctx, containerID)
	if err != nil {
		return "", err
	}
	if mediaID == "" {
		return "", &model.PlatformError{Kind: model.KindUnknownPlatform, Platform: t.Platform, Message: "published container resolved to no id"}
	}
	if err := t.Store.Delete(ctx, key); err != nil {
		lg.WithField("error", err).Warn("Unable to clear container id")
	}
	lg.WithField("media_id", mediaID).Info("Container was already published by an earlier attempt")
	return mediaID, nil
}
