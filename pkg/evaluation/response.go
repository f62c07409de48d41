package evaluation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/featurehub-ai/platform/pkg/modeling"
)

type StatusCode string

const (
	StatusOkay             StatusCode = "okay"
	StatusBadRequest       StatusCode = "bad_request"
	StatusBadAuth          StatusCode = "bad_auth"
	StatusBadFeature       StatusCode = "bad_feature"
	StatusDuplicateFeature StatusCode = "duplicate_feature"
	StatusServerError      StatusCode = "server_error"
	StatusDBError          StatusCode = "db_error"
)

var explanations = map[StatusCode]string{
	StatusOkay:             "Feature has been accepted and registered.",
	StatusBadRequest:       "Server did not understand the request. Check the problem name and that you are a registered user.",
	StatusBadAuth:          "Could not authenticate the request. Log in again and resubmit.",
	StatusBadFeature:       "There was an error extracting or evaluating the feature. Fix the feature and resubmit.",
	StatusDuplicateFeature: "This feature has already been registered for this problem.",
	StatusServerError:      "The server encountered an unexpected error. Try again later.",
	StatusDBError:          "The feature was evaluated but could not be saved. Try again later.",
}

// StatusCodes lists the closed set of codes.
func StatusCodes() []StatusCode {
	return []StatusCode{
		StatusOkay, StatusBadRequest, StatusBadAuth, StatusBadFeature,
		StatusDuplicateFeature, StatusServerError, StatusDBError,
	}
}

func (s StatusCode) Valid() bool {
	_, ok := explanations[s]
	return ok
}

func (s StatusCode) Explanation() string {
	if e, ok := explanations[s]; ok {
		return e
	}
	return fmt.Sprintf("Unknown status %q.", string(s))
}

// Response is the submission result. Fields are declared in key order so
// the encoded form has sorted keys.
type Response struct {
	Message    string              `json:"message,omitempty"`
	Metrics    modeling.MetricList `json:"metrics"`
	StatusCode StatusCode          `json:"status_code"`
	TopicURL   string              `json:"topic_url"`
}

// Okay builds a successful response. A nil metric list is normalized to an
// empty one so metrics are never null on success.
func Okay(metrics modeling.MetricList, topicURL string) Response {
	if metrics == nil {
		metrics = modeling.MetricList{}
	}
	return Response{StatusCode: StatusOkay, Metrics: metrics, TopicURL: topicURL}
}

// Failure builds a non-okay response; message is shown to the submitter.
func Failure(code StatusCode, message string) Response {
	return Response{StatusCode: code, Message: message}
}

// Marshal renders the canonical text form.
func (r Response) Marshal() ([]byte, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	return json.MarshalIndent(r, "", " ")
}

func (r Response) check() error {
	if !r.StatusCode.Valid() {
		return fmt.Errorf("unknown status code %q", string(r.StatusCode))
	}
	if r.StatusCode == StatusOkay && r.Metrics == nil {
		return errors.New("okay response without metrics")
	}
	if r.StatusCode != StatusOkay && r.Metrics != nil {
		return fmt.Errorf("%s response carries metrics", r.StatusCode)
	}
	return nil
}

// ParseResponse decodes and checks the canonical text form.
func ParseResponse(data []byte) (Response, error) {
	var r Response
	if err := json.Unmarshal(data, &r); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if err := r.check(); err != nil {
		return Response{}, err
	}
	return r, nil
}

// Equal compares responses with metric lists compared by name.
func (r Response) Equal(other Response) bool {
	if r.StatusCode != other.StatusCode || r.TopicURL != other.TopicURL || r.Message != other.Message {
		return false
	}
	if (r.Metrics == nil) != (other.Metrics == nil) {
		return false
	}
	return r.Metrics.Equal(other.Metrics)
}

func (r Response) String() string {
	var b strings.Builder
	b.WriteString(r.StatusCode.Explanation())
	b.WriteString("\n")
	if r.Message != "" {
		b.WriteString(r.Message)
		b.WriteString("\n")
	}
	if r.StatusCode == StatusOkay {
		b.WriteString(r.Metrics.String())
		if r.TopicURL != "" {
			fmt.Fprintf(&b, "Discussion: %s\n", r.TopicURL)
		}
	}
	return b.String()
}
