package cmd

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/exec"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/apex/log"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/pterodactyl/filebox/config"
	"github.com/pterodactyl/filebox/loggers/cli"
	"github.com/pterodactyl/filebox/system"
)

const (
	DefaultHastebinUrl = "https://ptero.co"
	DefaultLogLines    = 200
)

var diagnosticsArgs struct {
	IncludeEndpoints   bool
	IncludeLogs        bool
	ReviewBeforeUpload bool
	HastebinURL        string
	LogLines           int
}

func newDiagnosticsCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "diagnostics",
		Short: "Collect and report information about this instance to assist in debugging.",
		PreRun: func(cmd *cobra.Command, args []string) {
			initConfig()
			log.SetHandler(cli.Default)
		},
		Run: diagnosticsCmdRun,
	}

	command.Flags().StringVar(&diagnosticsArgs.HastebinURL, "hastebin-url", DefaultHastebinUrl, "the url of the hastebin instance to use")
	command.Flags().IntVar(&diagnosticsArgs.LogLines, "log-lines", DefaultLogLines, "the number of log lines to include in the report")

	return command
}

// diagnosticsCmdRun collects diagnostics about this instance, its configuration
// and the root directory it serves.
func diagnosticsCmdRun(*cobra.Command, []string) {
	questions := []*survey.Question{
		{
			Name:   "IncludeEndpoints",
			Prompt: &survey.Confirm{Message: "Do you want to include endpoints (i.e. the address the API listens on)?", Default: false},
		},
		{
			Name:   "IncludeLogs",
			Prompt: &survey.Confirm{Message: "Do you want to include the latest logs?", Default: true},
		},
		{
			Name: "ReviewBeforeUpload",
			Prompt: &survey.Confirm{
				Message: "Do you want to review the collected data before uploading to " + diagnosticsArgs.HastebinURL + "?",
				Help:    "The data, especially the logs, might contain sensitive information, so you should review it. You will be asked again if you want to upload.",
				Default: true,
			},
		},
	}
	if err := survey.Ask(questions, &diagnosticsArgs); err != nil {
		if err == terminal.InterruptErr {
			return
		}
		panic(err)
	}

	cfg := config.Get()
	info := system.GetSystemInformation()

	output := &strings.Builder{}
	fmt.Fprintln(output, "Filebox - Diagnostics Report")
	printHeader(output, "Versions")
	fmt.Fprintln(output, "             Filebox:", info.Version)
	fmt.Fprintln(output, "                  Go:", info.GoVersion)
	fmt.Fprintln(output, "                  OS:", info.OS, info.Architecture)
	fmt.Fprintln(output, "                CPUs:", info.CpuCount)
	var uts unix.Utsname
	if err := unix.Uname(&uts); err == nil {
		fmt.Fprintln(output, "              Kernel:", unix.ByteSliceToString(uts.Release[:]))
	}

	printHeader(output, "Configuration")
	fmt.Fprintln(output, "  Internal Webserver:", redact(cfg.Api.Host), ":", cfg.Api.Port)
	fmt.Fprintln(output, "        Upload Limit:", system.FormatBytes(cfg.Api.UploadLimit*1024*1024))
	fmt.Fprintln(output, "     Metrics Enabled:", cfg.Api.Metrics)
	fmt.Fprintln(output, "")
	fmt.Fprintln(output, "      Root Directory:", cfg.System.RootDirectory)
	fmt.Fprintln(output, "      Logs Directory:", cfg.System.LogDirectory)
	fmt.Fprintln(output, "          Tree Depth:", cfg.System.TreeDepth)
	fmt.Fprintln(output, "     Listing Workers:", cfg.System.ListingWorkers)
	fmt.Fprintln(output, "")
	fmt.Fprintln(output, "   Compression Level:", cfg.Archives.CompressionLevel)
	fmt.Fprintln(output, "  Archive Write Limit:", cfg.Archives.WriteLimit, "MiB/s")
	fmt.Fprintln(output, "")
	fmt.Fprintln(output, "         Server Time:", time.Now().Format(time.RFC1123Z))
	fmt.Fprintln(output, "          Debug Mode:", cfg.Debug)

	printHeader(output, "Root Directory: Disk Usage")
	var st unix.Statfs_t
	if err := unix.Statfs(cfg.System.RootDirectory, &st); err == nil {
		total := int64(st.Blocks) * int64(st.Bsize)
		free := int64(st.Bavail) * int64(st.Bsize)
		fmt.Fprintln(output, "  Total:", system.FormatBytes(total))
		fmt.Fprintln(output, "   Free:", system.FormatBytes(free))
	} else {
		fmt.Fprintln(output, "Couldn't read disk usage: ", err)
	}

	printHeader(output, "Latest Logs")
	if !diagnosticsArgs.IncludeLogs {
		fmt.Fprintln(output, "Logs redacted.")
	} else if cfg.System.LogDirectory == "" {
		fmt.Fprintln(output, "Logs are not written to disk.")
	} else {
		p := filepath.Join(cfg.System.LogDirectory, "filebox.log")
		if c, err := exec.Command("tail", "-n", strconv.Itoa(diagnosticsArgs.LogLines), p).Output(); err != nil {
			fmt.Fprintln(output, "No logs found or an error occurred.")
		} else {
			fmt.Fprintf(output, "%s\n", string(c))
		}
	}

	if !diagnosticsArgs.IncludeEndpoints && cfg.Api.Host != "" {
		s := output.String()
		output.Reset()
		s = strings.ReplaceAll(s, cfg.Api.Host, "{redacted}")
		output.WriteString(s)
	}

	fmt.Println("\n---------------  generated report  ---------------")
	fmt.Println(output.String())
	fmt.Print("---------------   end of report    ---------------\n\n")

	upload := !diagnosticsArgs.ReviewBeforeUpload
	if !upload {
		survey.AskOne(&survey.Confirm{Message: "Upload to " + diagnosticsArgs.HastebinURL + "?", Default: false}, &upload)
	}
	if upload {
		u, err := uploadToHastebin(diagnosticsArgs.HastebinURL, output.String())
		if err == nil {
			fmt.Println("Your report is available here: ", u)
		}
	}
}

func uploadToHastebin(hbUrl, content string) (string, error) {
	r := strings.NewReader(content)
	u, err := url.Parse(hbUrl)
	if err != nil {
		return "", err
	}
	u.Path = path.Join(u.Path, "documents")
	res, err := http.Post(u.String(), "plain/text", r)
	if err != nil {
		fmt.Println("Failed to upload report to ", u.String(), err)
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		fmt.Println("Failed to upload report to ", u.String(), res.Status)
		return "", errors.Errorf("unexpected response status %d", res.StatusCode)
	}
	pres := make(map[string]interface{})
	body, err := io.ReadAll(res.Body)
	if err != nil {
		fmt.Println("Failed to parse response.", err)
		return "", err
	}
	json.Unmarshal(body, &pres)
	if key, ok := pres["key"].(string); ok {
		u, _ := url.Parse(hbUrl)
		u.Path = path.Join(u.Path, key)
		return u.String(), nil
	}
	return "", errors.New("failed to find key in response")
}

func redact(s string) string {
	if !diagnosticsArgs.IncludeEndpoints {
		return "{redacted}"
	}
	return s
}

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w, "\n|\n|", title)
	fmt.Fprintln(w, "| ------------------------------")
}
