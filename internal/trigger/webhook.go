package trigger

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

// ErrUnsupportedEvent — тип webhook-события не поддерживается.
var ErrUnsupportedEvent = errors.New("unsupported webhook event")

// ErrInvalidPayload — тело webhook не удалось разобрать.
var ErrInvalidPayload = errors.New("invalid webhook payload")

// pushPayload — поля push webhook, которые нужны для запуска.
type pushPayload struct {
	Ref        string     `json:"ref"`
	After      string     `json:"after"`
	Deleted    bool       `json:"deleted"`
	Repository repository `json:"repository"`
}

// pullRequestPayload — поля pull_request webhook.
type pullRequestPayload struct {
	Action      string `json:"action"`
	PullRequest struct {
		Head struct {
			Ref string `json:"ref"`
			SHA string `json:"sha"`
		} `json:"head"`
		Base struct {
			Ref string `json:"ref"`
		} `json:"base"`
	} `json:"pull_request"`
	Repository repository `json:"repository"`
}

type repository struct {
	CloneURL string `json:"clone_url"`
	FullName string `json:"full_name"`
}

func (r repository) url() string {
	if r.CloneURL != "" {
		return r.CloneURL
	}
	return r.FullName
}

// ParseWebhook разбирает webhook платформы (заголовок X-GitHub-Event) в Event.
//
// Поддерживаются push и pull_request. Для удаления ветки возвращается
// ErrUnsupportedEvent: собирать нечего.
func ParseWebhook(eventName string, body []byte) (domain.Event, error) {
	now := time.Now().UTC()

	switch eventName {
	case "push":
		var p pushPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return domain.Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if p.Deleted {
			return domain.Event{}, fmt.Errorf("%w: branch deletion", ErrUnsupportedEvent)
		}
		return domain.Event{
			Type:       domain.EventPush,
			Ref:        p.Ref,
			SHA:        p.After,
			Repository: p.Repository.url(),
			ReceivedAt: now,
		}, nil

	case "pull_request":
		var p pullRequestPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return domain.Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return domain.Event{
			Type:       domain.EventPullRequest,
			Action:     p.Action,
			Ref:        "refs/heads/" + p.PullRequest.Head.Ref,
			BaseRef:    p.PullRequest.Base.Ref,
			SHA:        p.PullRequest.Head.SHA,
			Repository: p.Repository.url(),
			ReceivedAt: now,
		}, nil

	default:
		return domain.Event{}, fmt.Errorf("%w: %s", ErrUnsupportedEvent, eventName)
	}
}
