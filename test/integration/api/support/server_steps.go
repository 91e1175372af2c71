package support

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/doseocr/internal/extract"
	"github.com/MeKo-Tech/doseocr/internal/testutil"
)

// The server starts on the first request so later Given steps can still
// script the OCR service.
func (testCtx *TestContext) aRunningServer() error {
	return nil
}

func (testCtx *TestContext) submissionsAreLimitedTo(perMinute int) error {
	if testCtx.HTTPServer != nil {
		return fmt.Errorf("rate limits must be configured before the first request")
	}
	testCtx.RateLimit.Enabled = true
	testCtx.RateLimit.RequestsPerMinute = perMinute
	return nil
}

func (testCtx *TestContext) theOCRServiceFailsOn(ref, message string) error {
	testCtx.Recognizer.FailWith(ref, message)
	return nil
}

func (testCtx *TestContext) theOCRServiceReturnsTheLabelFirstReportFor(ref string) error {
	testCtx.Recognizer.WithText(ref, testutil.LabelFirstReport)
	return nil
}

func (testCtx *TestContext) theOCRServiceTakesPerReport(ms int) error {
	if testCtx.HTTPServer != nil {
		return fmt.Errorf("OCR latency must be configured before the server starts")
	}
	testCtx.Recognizer.Delay = time.Duration(ms) * time.Millisecond
	return nil
}

func (testCtx *TestContext) thePatientIsRegistered(id, gender, studyDate string) error {
	testCtx.Patients.Put(id, extract.PatientMeta{Gender: gender, StudyDate: studyDate})
	return nil
}

func (testCtx *TestContext) iSendRequest(method, path string) error {
	return testCtx.Do(method, path, nil)
}

func (testCtx *TestContext) iSendRequestWithBody(method, path string, body *godog.DocString) error {
	return testCtx.Do(method, path, []byte(body.Content))
}

func (testCtx *TestContext) theResponseStatusShouldBe(status int) error {
	if testCtx.LastHTTPStatusCode != status {
		return fmt.Errorf("expected status %d, got %d: %s", status, testCtx.LastHTTPStatusCode, testCtx.responseText())
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(text string) error {
	if !strings.Contains(string(testCtx.LastHTTPResponse), text) {
		return fmt.Errorf("response does not contain %q: %s", text, testCtx.responseText())
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBe(name, value string) error {
	if got := testCtx.LastHTTPHeaders.Get(name); got != value {
		return fmt.Errorf("expected header %s %q, got %q", name, value, got)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldBeAJSONError() error {
	var body struct {
		Success *bool  `json:"success"`
		Error   string `json:"error"`
	}
	if err := testCtx.DecodeResponse(&body); err != nil {
		return err
	}
	if body.Success == nil || *body.Success || body.Error == "" {
		return fmt.Errorf("expected {success:false, error:...}, got %s", testCtx.responseText())
	}
	return nil
}

func (testCtx *TestContext) theHealthEndpointShouldRespondWithStatus(status int) error {
	if err := testCtx.Do(http.MethodGet, "/health", nil); err != nil {
		return err
	}
	return testCtx.theResponseStatusShouldBe(status)
}

// RegisterServerSteps registers server and raw HTTP steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a running dose OCR server$`, testCtx.aRunningServer)
	sc.Step(`^submissions are limited to (\d+) per minute$`, testCtx.submissionsAreLimitedTo)
	sc.Step(`^the OCR service fails on "([^"]*)" with "([^"]*)"$`, testCtx.theOCRServiceFailsOn)
	sc.Step(`^the OCR service returns the label-first report for "([^"]*)"$`,
		testCtx.theOCRServiceReturnsTheLabelFirstReportFor)
	sc.Step(`^the OCR service takes (\d+) ms per report$`, testCtx.theOCRServiceTakesPerReport)
	sc.Step(`^patient "([^"]*)" is registered as "([^"]*)" with study date "([^"]*)"$`,
		testCtx.thePatientIsRegistered)

	sc.Step(`^I send a (GET|POST|DELETE|PUT|OPTIONS) request to "([^"]*)"$`, testCtx.iSendRequest)
	sc.Step(`^I send a (GET|POST|DELETE|PUT) request to "([^"]*)" with body:$`, testCtx.iSendRequestWithBody)
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseHeaderShouldBe)
	sc.Step(`^the response should be a JSON error$`, testCtx.theResponseShouldBeAJSONError)
	sc.Step(`^the health endpoint should respond with status (\d+)$`, testCtx.theHealthEndpointShouldRespondWithStatus)
}
