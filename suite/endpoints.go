package suite

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/visreg/archive"
	"github.com/hazyhaar/visreg/artifact"
	"github.com/hazyhaar/visreg/audit"
	"github.com/hazyhaar/visreg/guard"
	"github.com/hazyhaar/visreg/kit"
)

// ResponsiveRequest captures one request across several viewports.
type ResponsiveRequest struct {
	artifact.CaptureRequest
	Viewports []artifact.Viewport `json:"viewports"`
}

// CheckArgs is the transport form of a check. With viewports it runs a
// responsive check and the response is a list of reports.
type CheckArgs struct {
	CheckRequest
	Viewports []artifact.Viewport `json:"viewports,omitempty"`
}

// ApproveRequest promotes a screenshot to baseline.
type ApproveRequest struct {
	Name         string `json:"name,omitempty"`
	ScreenshotID string `json:"screenshot_id"`
}

// LookupRequest addresses an archived item.
type LookupRequest struct {
	ID    string `json:"id"`
	Limit int    `json:"limit,omitempty"`
}

type endpoints struct {
	capture    kit.Endpoint
	responsive kit.Endpoint
	compare    kit.Endpoint
	check      kit.Endpoint
	approve    kit.Endpoint
	screenshot kit.Endpoint
	diff       kit.Endpoint
	history    kit.Endpoint
}

func (s *Suite) endpoints(logger *slog.Logger) endpoints {
	if logger == nil {
		logger = s.logger
	}
	wrap := func(name string, ep kit.Endpoint) kit.Endpoint {
		mws := []kit.Middleware{kit.Logging(logger, name)}
		if s.audit != nil {
			mws = append(mws, audit.Middleware(s.audit, name))
		}
		return kit.Chain(mws...)(ep)
	}
	return endpoints{
		capture: wrap("visreg_capture", func(ctx context.Context, req any) (any, error) {
			r := req.(*artifact.CaptureRequest)
			if err := s.screen(ctx, r.URL, r.Name); err != nil {
				return nil, err
			}
			return s.Capture(ctx, *r)
		}),
		responsive: wrap("visreg_responsive", func(ctx context.Context, req any) (any, error) {
			r := req.(*ResponsiveRequest)
			if len(r.Viewports) == 0 {
				return nil, errInvalid("viewports required")
			}
			if err := s.screen(ctx, r.URL, r.Name); err != nil {
				return nil, err
			}
			return s.Responsive(ctx, r.CaptureRequest, r.Viewports)
		}),
		compare: wrap("visreg_compare", func(ctx context.Context, req any) (any, error) {
			return s.Compare(ctx, *req.(*CompareRequest))
		}),
		check: wrap("visreg_check", func(ctx context.Context, req any) (any, error) {
			r := req.(*CheckArgs)
			if err := s.screen(ctx, r.URL, r.Name); err != nil {
				return nil, err
			}
			if len(r.Viewports) > 0 {
				return s.CheckResponsive(ctx, r.CheckRequest, r.Viewports)
			}
			return s.Check(ctx, r.CheckRequest)
		}),
		approve: wrap("visreg_approve", func(ctx context.Context, req any) (any, error) {
			r := req.(*ApproveRequest)
			if r.ScreenshotID == "" {
				return nil, errInvalid("screenshot_id required")
			}
			if err := s.screen(ctx, "", r.Name); err != nil {
				return nil, err
			}
			if err := s.Approve(ctx, r.Name, r.ScreenshotID); err != nil {
				return nil, err
			}
			return map[string]string{"status": "approved", "name": r.Name, "screenshot_id": r.ScreenshotID}, nil
		}),
		screenshot: wrap("visreg_screenshot", func(ctx context.Context, req any) (any, error) {
			return s.Screenshot(ctx, req.(*LookupRequest).ID)
		}),
		diff: wrap("visreg_diff", func(ctx context.Context, req any) (any, error) {
			return s.Diff(ctx, req.(*LookupRequest).ID)
		}),
		history: wrap("visreg_history", func(ctx context.Context, req any) (any, error) {
			r := req.(*LookupRequest)
			items, err := s.History(ctx, r.ID, r.Limit)
			if items == nil && err == nil {
				items = []*archive.ScreenshotInfo{}
			}
			return items, err
		}),
	}
}

// screen applies the guard to a transport request. Empty fields are left
// to the operation itself.
func (s *Suite) screen(ctx context.Context, url, name string) error {
	if s.guard == nil {
		return nil
	}
	if url != "" {
		if err := s.guard.CheckURL(ctx, url); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	if name != "" {
		if err := guard.CheckName(name); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	return nil
}
