package main

import (
	"github.com/spf13/cobra"

	"github.com/hazyhaar/visreg/artifact"
	"github.com/hazyhaar/visreg/suite"
)

var checkFlags struct {
	url, name, selector, viewports string
	threshold                      float64
	fullPage                       bool
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Capture a page and compare it with its baseline",
	Long: `Capture a named page and compare it with the approved baseline for the same
name and viewport. The first capture becomes the baseline. Exits with status 2
when any check fails or errors.`,
	RunE: runCheck,
}

var approveFlags struct {
	id, name string
}

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Promote an archived screenshot to baseline",
	RunE:  runApprove,
}

func init() {
	f := checkCmd.Flags()
	f.StringVar(&checkFlags.url, "url", "", "page URL (required)")
	f.StringVar(&checkFlags.name, "name", "", "baseline name (required)")
	f.StringVar(&checkFlags.selector, "selector", "", "check only the element matching this CSS selector")
	f.StringVar(&checkFlags.viewports, "viewports", "", "comma separated WIDTHxHEIGHT[@scale]; default viewport when empty")
	f.Float64Var(&checkFlags.threshold, "threshold", 0, "max percentage of changed pixels that passes (default from config)")
	f.BoolVar(&checkFlags.fullPage, "full-page", false, "capture the full scrollable page")
	_ = checkCmd.MarkFlagRequired("url")
	_ = checkCmd.MarkFlagRequired("name")

	f = approveCmd.Flags()
	f.StringVar(&approveFlags.id, "id", "", "screenshot id (required)")
	f.StringVar(&approveFlags.name, "name", "", "refuse unless the screenshot has this name")
	_ = approveCmd.MarkFlagRequired("id")
}

func runCheck(cmd *cobra.Command, _ []string) error {
	fl := checkFlags
	a, err := openApp(needs{browser: true, store: true})
	if err != nil {
		return err
	}
	defer a.Close()

	req := suite.CheckRequest{CaptureRequest: artifact.CaptureRequest{
		URL:      fl.url,
		Name:     fl.name,
		Selector: fl.selector,
		Options:  &artifact.CaptureOptions{FullPage: fl.fullPage, WaitForFonts: true, WaitForImages: true},
	}}
	if cmd.Flags().Changed("threshold") {
		opts := a.diff.Defaults()
		opts.Threshold = fl.threshold
		req.DiffOptions = &opts
	}

	var reports []*suite.Report
	if fl.viewports != "" {
		vps, err := parseViewports(fl.viewports)
		if err != nil {
			return err
		}
		reports, err = a.suite.CheckResponsive(cmd.Context(), req, vps)
		if err != nil {
			return err
		}
	} else {
		rep, err := a.suite.Check(cmd.Context(), req)
		if err != nil {
			return err
		}
		reports = []*suite.Report{rep}
	}

	for _, r := range reports {
		if r.Diff != nil {
			r.Diff.DiffImage = ""
		}
	}
	if err := printJSON(reports); err != nil {
		return err
	}
	for _, r := range reports {
		if r.Status == artifact.StatusFailed || r.Status == artifact.StatusError {
			return errRegression
		}
	}
	return nil
}

func runApprove(cmd *cobra.Command, _ []string) error {
	a, err := openApp(needs{store: true})
	if err != nil {
		return err
	}
	defer a.Close()
	return a.suite.Approve(cmd.Context(), approveFlags.name, approveFlags.id)
}
