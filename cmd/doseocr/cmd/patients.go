package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/doseocr/internal/extract"
	"github.com/MeKo-Tech/doseocr/internal/jobs"
	"github.com/MeKo-Tech/doseocr/internal/patients"
)

// patientManifest is the subset of a batch manifest built from an archive listing.
type patientManifest struct {
	Items    []jobs.WorkItem                `yaml:"items"`
	Patients map[string]extract.PatientMeta `yaml:"patients"`
}

var patientsCmd = &cobra.Command{
	Use:   "patients",
	Short: "List patients from the imaging archive",
	Long: `List patients from the imaging archive configured under patients.archive.

With --manifest the listing is written as a batch manifest: one work item per
study (the cine number is the image reference) plus each patient's gender and
study date, ready for "doseocr run --manifest" or "doseocr submit --manifest".

Examples:
  doseocr patients --start 2024-03-01 --end 2024-03-31
  doseocr patients --patient-id 00012345 --json
  doseocr patients --start 2024-03-01 --manifest march.yaml`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if cmd.Flags().Changed("archive-url") {
			cfg.Patients.Archive.BaseURL, _ = cmd.Flags().GetString("archive-url")
		}
		if !cfg.ArchiveEnabled() {
			return errors.New("no imaging archive configured (set patients.archive.base_url or --archive-url)")
		}

		archive, err := patients.NewArchiveClient(cfg.ToArchiveConfig(), slog.Default())
		if err != nil {
			return err
		}

		var q patients.ListQuery
		q.StartDate, _ = cmd.Flags().GetString("start")
		q.EndDate, _ = cmd.Flags().GetString("end")
		q.PatientID, _ = cmd.Flags().GetString("patient-id")
		q.PatientName, _ = cmd.Flags().GetString("name")
		q.Modality, _ = cmd.Flags().GetString("modality")

		list, err := archive.ListPatients(cmd.Context(), q)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if manifestPath, _ := cmd.Flags().GetString("manifest"); manifestPath != "" {
			data, err := yaml.Marshal(buildPatientManifest(list))
			if err != nil {
				return err
			}
			if err := writeOutput(out, manifestPath, data); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d items to %s\n", len(list), manifestPath)
			return nil
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(list)
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "CINE\tPATIENT ID\tNAME\tGENDER\tAGE\tSTUDY DATE\tMODALITY")
		for _, p := range list {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				p.CineNo, p.PatientID, p.PatientName, p.Gender, p.Age, p.StudyDate, p.Modality)
		}
		return tw.Flush()
	},
}

func buildPatientManifest(list []patients.Patient) patientManifest {
	m := patientManifest{Patients: make(map[string]extract.PatientMeta, len(list))}
	for _, p := range list {
		m.Items = append(m.Items, p.WorkItem())
		if _, seen := m.Patients[p.PatientID]; !seen {
			m.Patients[p.PatientID] = p.Meta()
		}
	}
	return m
}

func init() {
	rootCmd.AddCommand(patientsCmd)
	patientsCmd.Flags().String("start", "", "first study date, YYYY-MM-DD (default today)")
	patientsCmd.Flags().String("end", "", "last study date, YYYY-MM-DD")
	patientsCmd.Flags().String("patient-id", "", "filter by patient id")
	patientsCmd.Flags().String("name", "", "filter by patient name")
	patientsCmd.Flags().String("modality", "", "modality (default patients.archive.modality)")
	patientsCmd.Flags().String("archive-url", "", "imaging archive base URL")
	patientsCmd.Flags().String("manifest", "", "write the listing as a batch manifest to this file")
	patientsCmd.Flags().Bool("json", false, "print JSON instead of a table")
}
