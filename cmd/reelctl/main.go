package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/bobarin/reelforge/internal/models"
)

// reelctl is a thin client for the reel API. It exists so reels can be
// driven from scripts without hand-writing multipart requests.

var (
	apiBase string
	apiKey  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "reelctl",
	Short: "reelctl - client for the reel generation API",
	Long:  "Command line client for creating reels from raw clips, polling their status, and downloading results.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiBase, "api", envOr("REELCTL_API", "http://localhost:8080"), "API base URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "key", os.Getenv("REELCTL_API_KEY"), "API key")

	createCmd.Flags().String("music", "", "background music file")
	createCmd.Flags().String("theme", "", "visual theme id")
	createCmd.Flags().String("transition", "", "transition id")
	createCmd.Flags().Float64("target", 0, "target duration in seconds")
	createCmd.Flags().String("pacing", "", "pacing strategy (round_robin or sequential)")
	createCmd.Flags().Bool("captions", false, "burn word captions into the reel")
	createCmd.Flags().Bool("wait", false, "poll until the reel finishes")

	rerenderCmd.Flags().String("theme", "", "visual theme id")
	rerenderCmd.Flags().String("transition", "", "transition id")
	rerenderCmd.Flags().Float64("target", 0, "target duration in seconds")
	rerenderCmd.Flags().Bool("captions", false, "burn word captions into the reel")

	downloadCmd.Flags().StringP("output", "o", "", "output file (default reel-<id>.mp4)")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(rerenderCmd)
	rootCmd.AddCommand(themesCmd)
}

var createCmd = &cobra.Command{
	Use:   "create [clips...]",
	Short: "Upload clips and start a reel",
	Args:  cobra.RangeArgs(1, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		music, _ := cmd.Flags().GetString("music")

		fields := map[string]string{}
		if v, _ := cmd.Flags().GetString("theme"); v != "" {
			fields["theme"] = v
		}
		if v, _ := cmd.Flags().GetString("transition"); v != "" {
			fields["transition"] = v
		}
		if v, _ := cmd.Flags().GetFloat64("target"); v > 0 {
			fields["target_duration_seconds"] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		if v, _ := cmd.Flags().GetString("pacing"); v != "" {
			fields["pacing"] = v
		}
		if cmd.Flags().Changed("captions") {
			v, _ := cmd.Flags().GetBool("captions")
			fields["captions"] = strconv.FormatBool(v)
		}

		var created models.CreateReelResponse
		if err := postMultipart("/v1/reels", args, music, fields, &created); err != nil {
			return err
		}

		fmt.Println("Reel created:", created.ReelID)

		wait, _ := cmd.Flags().GetBool("wait")
		if !wait {
			return nil
		}
		return pollUntilDone(created.ReelID.String())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [reel-id]",
	Short: "Show a reel's status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reel, err := fetchReel(args[0])
		if err != nil {
			return err
		}
		printReel(reel)
		return nil
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download [reel-id]",
	Short: "Download a finished reel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			output = fmt.Sprintf("reel-%s.mp4", args[0])
		}

		resp, err := doRequest(http.MethodGet, "/v1/reels/"+args[0]+"/download", nil, "")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return apiError(resp)
		}

		f, err := os.Create(output)
		if err != nil {
			return err
		}
		defer f.Close()

		n, err := io.Copy(f, resp.Body)
		if err != nil {
			return err
		}
		fmt.Printf("Saved %s (%d bytes)\n", output, n)
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [reel-id]",
	Short: "Cancel a queued or running reel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := doRequest(http.MethodDelete, "/v1/reels/"+args[0], nil, "")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			return apiError(resp)
		}
		fmt.Println("Reel cancelled:", args[0])
		return nil
	},
}

var rerenderCmd = &cobra.Command{
	Use:   "rerender [reel-id]",
	Short: "Re-render a finished reel with new options",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var req models.RerenderReelRequest
		if v, _ := cmd.Flags().GetString("theme"); v != "" {
			req.Theme = &v
		}
		if v, _ := cmd.Flags().GetString("transition"); v != "" {
			req.Transition = &v
		}
		if v, _ := cmd.Flags().GetFloat64("target"); v > 0 {
			req.TargetDurationSeconds = &v
		}
		if cmd.Flags().Changed("captions") {
			v, _ := cmd.Flags().GetBool("captions")
			req.Captions = &v
		}

		body, err := json.Marshal(req)
		if err != nil {
			return err
		}
		resp, err := doRequest(http.MethodPost, "/v1/reels/"+args[0]+"/rerender", bytes.NewReader(body), "application/json")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			return apiError(resp)
		}
		fmt.Println("Rerender queued:", args[0])
		return nil
	},
}

var themesCmd = &cobra.Command{
	Use:   "themes",
	Short: "List available themes and transitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		var themes []models.ThemeSpec
		if err := getJSON("/v1/themes", &themes); err != nil {
			return err
		}
		var transitions []models.TransitionSpec
		if err := getJSON("/v1/transitions", &transitions); err != nil {
			return err
		}

		fmt.Println("Themes:")
		for _, t := range themes {
			fmt.Printf("  %-12s %s\n", t.ID, t.DisplayName)
		}
		fmt.Println("Transitions:")
		for _, t := range transitions {
			fmt.Printf("  %-12s %s\n", t.ID, t.DisplayName)
		}
		return nil
	},
}

func pollUntilDone(reelID string) error {
	for {
		reel, err := fetchReel(reelID)
		if err != nil {
			return err
		}

		switch reel.Status {
		case models.ReelStatusCompleted:
			fmt.Println("Status: completed")
			if reel.FinalVideoURL != nil {
				fmt.Println("Video:", *reel.FinalVideoURL)
			}
			return nil
		case models.ReelStatusFailed:
			msg := "unknown error"
			if reel.ErrorMessage != nil {
				msg = *reel.ErrorMessage
			}
			return fmt.Errorf("reel failed: %s", msg)
		case models.ReelStatusCancelled:
			return fmt.Errorf("reel was cancelled")
		}

		fmt.Println("Status:", reel.Status)
		time.Sleep(3 * time.Second)
	}
}

func fetchReel(reelID string) (*models.ReelResponse, error) {
	var reel models.ReelResponse
	if err := getJSON("/v1/reels/"+reelID, &reel); err != nil {
		return nil, err
	}
	return &reel, nil
}

func printReel(reel *models.ReelResponse) {
	fmt.Println("ID:        ", reel.ID)
	fmt.Println("Status:    ", reel.Status)
	fmt.Println("Theme:     ", reel.Theme)
	fmt.Println("Transition:", reel.Transition)
	fmt.Printf("Target:     %.0fs\n", reel.TargetDurationSeconds)
	fmt.Println("Clips:     ", reel.ClipCount)
	if reel.UsableSeconds != nil {
		fmt.Printf("Usable:     %.1fs\n", *reel.UsableSeconds)
	}
	if reel.ErrorCode != nil {
		fmt.Println("Error code:", *reel.ErrorCode)
	}
	if reel.ErrorMessage != nil {
		fmt.Println("Error:     ", *reel.ErrorMessage)
	}
	if reel.FinalVideoURL != nil {
		fmt.Println("Video:     ", *reel.FinalVideoURL)
	}
	for _, clip := range reel.Clips {
		fmt.Printf("  clip %d: %-24s %-8s %.1fs\n", clip.SourceIndex, clip.Filename, clip.Status, clip.Duration)
	}
}

// postMultipart streams the clip files through a pipe so large uploads
// never buffer fully in memory.
func postMultipart(path string, clips []string, music string, fields map[string]string, out interface{}) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeMultipart(mw, clips, music, fields)
		if cerr := mw.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()

	resp, err := doRequest(http.MethodPost, path, pr, mw.FormDataContentType())
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func writeMultipart(mw *multipart.Writer, clips []string, music string, fields map[string]string) error {
	for key, value := range fields {
		if err := mw.WriteField(key, value); err != nil {
			return err
		}
	}
	for _, clip := range clips {
		if err := writeFilePart(mw, "clips", clip); err != nil {
			return err
		}
	}
	if music != "" {
		if err := writeFilePart(mw, "music", music); err != nil {
			return err
		}
	}
	return nil
}

func writeFilePart(mw *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	part, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

func getJSON(path string, out interface{}) error {
	resp, err := doRequest(http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func doRequest(method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequest(method, apiBase+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	return http.DefaultClient.Do(req)
}

func apiError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
		return fmt.Errorf("%s (HTTP %d)", payload.Error, resp.StatusCode)
	}
	return fmt.Errorf("unexpected status HTTP %d", resp.StatusCode)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
