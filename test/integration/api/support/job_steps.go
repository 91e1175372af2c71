package support

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/doseocr/internal/client"
	"github.com/MeKo-Tech/doseocr/internal/extract"
	"github.com/MeKo-Tech/doseocr/internal/jobs"
	"github.com/MeKo-Tech/doseocr/internal/server"
	"github.com/MeKo-Tech/doseocr/internal/testutil"
)

const jobTimeout = 10 * time.Second

func (testCtx *TestContext) iSubmitReports(n int) error {
	return testCtx.submit(server.SubmitJobRequest{Items: testutil.Items(n)})
}

func (testCtx *TestContext) iSubmitReportsWithConcurrency(n, concurrency int) error {
	return testCtx.submit(server.SubmitJobRequest{Items: testutil.Items(n), Concurrency: concurrency})
}

func (testCtx *TestContext) iSubmitTheReports(table *godog.Table) error {
	req := server.SubmitJobRequest{Patients: make(map[string]extract.PatientMeta)}
	header := table.Rows[0].Cells
	for _, row := range table.Rows[1:] {
		values := make(map[string]string, len(header))
		for i, cell := range row.Cells {
			values[header[i].Value] = cell.Value
		}
		req.Items = append(req.Items, jobs.WorkItem{
			ImageRef:    values["image"],
			PatientID:   values["patient_id"],
			PatientName: values["name"],
		})
		if values["gender"] != "" || values["study_date"] != "" {
			req.Patients[values["patient_id"]] = extract.PatientMeta{
				Gender:    values["gender"],
				StudyDate: values["study_date"],
			}
		}
	}
	return testCtx.submit(req)
}

func (testCtx *TestContext) submit(req server.SubmitJobRequest) error {
	if err := testCtx.DoJSON(http.MethodPost, "/jobs", req); err != nil {
		return err
	}
	if testCtx.LastHTTPStatusCode != http.StatusAccepted {
		return nil
	}
	var resp server.SubmitJobResponse
	if err := testCtx.DecodeResponse(&resp); err != nil {
		return err
	}
	testCtx.JobID = resp.JobID
	return nil
}

func (testCtx *TestContext) iShouldReceiveAJobID() error {
	if testCtx.JobID == "" {
		return fmt.Errorf("no job id in response: %s", testCtx.responseText())
	}
	return nil
}

func (testCtx *TestContext) iWaitForTheJobToFinish() error {
	if testCtx.JobID == "" {
		return fmt.Errorf("no job has been submitted")
	}
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	testCtx.Snapshots = nil
	job, err := testCtx.Client.Poll(ctx, testCtx.JobID, 10*time.Millisecond, func(j jobs.Job) {
		testCtx.Snapshots = append(testCtx.Snapshots, j)
	})
	if err != nil {
		return fmt.Errorf("polling job %s: %w", testCtx.JobID, err)
	}
	testCtx.Job = job
	return nil
}

func (testCtx *TestContext) theJobStatusShouldBe(status string) error {
	if string(testCtx.Job.Status) != status {
		return fmt.Errorf("expected job status %q, got %q", status, testCtx.Job.Status)
	}
	return nil
}

func (testCtx *TestContext) theJobShouldHaveSuccessesAndFailures(successes, failures int) error {
	if testCtx.Job.SuccessCount != successes || testCtx.Job.FailureCount != failures {
		return fmt.Errorf("expected %d successes and %d failures, got %d and %d",
			successes, failures, testCtx.Job.SuccessCount, testCtx.Job.FailureCount)
	}
	if got := testCtx.Job.CompletedCount; got != testCtx.Job.Total {
		return fmt.Errorf("finished job has completed %d of %d", got, testCtx.Job.Total)
	}
	return nil
}

func (testCtx *TestContext) theJobShouldHaveResults(n int) error {
	if len(testCtx.Job.Results) != n {
		return fmt.Errorf("expected %d results, got %d", n, len(testCtx.Job.Results))
	}
	return nil
}

func (testCtx *TestContext) theResultForShouldFailWith(ref, message string) error {
	for _, r := range testCtx.Job.Results {
		if r.Item.ImageRef != ref {
			continue
		}
		if r.Success {
			return fmt.Errorf("result for %s succeeded", ref)
		}
		if !strings.Contains(r.Error, message) {
			return fmt.Errorf("result for %s failed with %q, want %q", ref, r.Error, message)
		}
		return nil
	}
	return fmt.Errorf("no result for %s", ref)
}

func (testCtx *TestContext) progressShouldNeverDecrease() error {
	last := -1
	for _, snap := range testCtx.Snapshots {
		if snap.CompletedCount < last {
			return fmt.Errorf("completed count went from %d to %d", last, snap.CompletedCount)
		}
		if snap.CompletedCount > snap.Total {
			return fmt.Errorf("completed count %d exceeds total %d", snap.CompletedCount, snap.Total)
		}
		last = snap.CompletedCount
	}
	return nil
}

func (testCtx *TestContext) atMostReportsShouldBeRecognizedAtOnce(n int) error {
	if got := testCtx.Recognizer.MaxConcurrent(); got > n {
		return fmt.Errorf("recognized %d reports at once, limit was %d", got, n)
	}
	return nil
}

func (testCtx *TestContext) iRequestTheJob() error {
	return testCtx.Do(http.MethodGet, "/jobs/"+testCtx.JobID, nil)
}

func (testCtx *TestContext) theReturnedJobShouldBe(status string, completed, total int) error {
	var resp server.JobResponse
	if err := testCtx.DecodeResponse(&resp); err != nil {
		return err
	}
	job := resp.Job
	if string(job.Status) != status || job.CompletedCount != completed || job.Total != total {
		return fmt.Errorf("expected %s job with %d of %d done, got %s with %d of %d",
			status, completed, total, job.Status, job.CompletedCount, job.Total)
	}
	return nil
}

func (testCtx *TestContext) iDeleteTheJob() error {
	return testCtx.Do(http.MethodDelete, "/jobs/"+testCtx.JobID, nil)
}

func (testCtx *TestContext) theJobShouldNoLongerExist() error {
	_, err := testCtx.Client.Snapshot(context.Background(), testCtx.JobID)
	if !client.IsNotFound(err) {
		return fmt.Errorf("expected job %s to be gone, got %v", testCtx.JobID, err)
	}
	return nil
}

func (testCtx *TestContext) theJobListShouldContainJobs(n int) error {
	list, err := testCtx.Client.ListJobs(context.Background())
	if err != nil {
		return err
	}
	if len(list) != n {
		return fmt.Errorf("expected %d jobs, got %d", n, len(list))
	}
	return nil
}

// RegisterJobSteps registers job submission and polling steps.
func (testCtx *TestContext) RegisterJobSteps(sc *godog.ScenarioContext) {
	sc.Step(`^I submit (\d+) reports?$`, testCtx.iSubmitReports)
	sc.Step(`^I submit (\d+) reports? with concurrency (\d+)$`, testCtx.iSubmitReportsWithConcurrency)
	sc.Step(`^I submit the reports:$`, testCtx.iSubmitTheReports)
	sc.Step(`^I should receive a job id$`, testCtx.iShouldReceiveAJobID)
	sc.Step(`^I wait for the job to finish$`, testCtx.iWaitForTheJobToFinish)
	sc.Step(`^the job status should be "([^"]*)"$`, testCtx.theJobStatusShouldBe)
	sc.Step(`^the job should have (\d+) successes and (\d+) failures?$`, testCtx.theJobShouldHaveSuccessesAndFailures)
	sc.Step(`^the job should have (\d+) results?$`, testCtx.theJobShouldHaveResults)
	sc.Step(`^the result for "([^"]*)" should fail with "([^"]*)"$`, testCtx.theResultForShouldFailWith)
	sc.Step(`^progress should never decrease$`, testCtx.progressShouldNeverDecrease)
	sc.Step(`^at most (\d+) reports? should be recognized at once$`, testCtx.atMostReportsShouldBeRecognizedAtOnce)
	sc.Step(`^I request the job$`, testCtx.iRequestTheJob)
	sc.Step(`^the returned job should be "([^"]*)" with (\d+) of (\d+) reports done$`, testCtx.theReturnedJobShouldBe)
	sc.Step(`^I delete the job$`, testCtx.iDeleteTheJob)
	sc.Step(`^the job should no longer exist$`, testCtx.theJobShouldNoLongerExist)
	sc.Step(`^the job list should contain (\d+) jobs?$`, testCtx.theJobListShouldContainJobs)
}
