package bulkload

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tripletsrewards/server/internal/audit"
	"github.com/tripletsrewards/server/internal/auth"
	"github.com/tripletsrewards/server/internal/model"
	"github.com/tripletsrewards/server/internal/repo"
)

// Mode selects which record layouts a file may contain
type Mode string

const (
	ModeAdmin   Mode = "admin"
	ModeSponsor Mode = "sponsor"
)

const (
	statusSuccess      = "Success"
	statusFailed       = "Failed"
	logPrefix          = "bulk_load_"
	logSuffix          = ".csv"
	tempPasswordLength = 10
	maxUsernameTries   = 100
)

// MaxLineBytes is the longest record line; longer lines fail on their own
const MaxLineBytes = 4096

var (
	ErrNoOrganization = errors.New("uploader has no sponsor organization")
	ErrBadLogName     = errors.New("invalid log file name")
)

var logHeader = []string{"Line Number", "Record Type", "Status", "Details", "Error"}

// Result counts what a file produced
type Result struct {
	Total           int    `json:"total"`
	Success         int    `json:"success"`
	Failed          int    `json:"failed"`
	SponsorsCreated int    `json:"sponsors_created"`
	DriversCreated  int    `json:"drivers_created"`
	LogFile         string `json:"log_file"`
}

// Processor creates sponsors and drivers from pipe-delimited upload files
type Processor struct {
	accounts repo.AccountRepo
	sponsors repo.SponsorRepo
	hasher   *auth.PasswordHasher
	audit    audit.Sink
	logDir   string
	logger   *zerolog.Logger
	now      func() time.Time
}

// NewProcessor creates a processor writing per-file CSV logs to logDir
func NewProcessor(accounts repo.AccountRepo, sponsors repo.SponsorRepo, hasher *auth.PasswordHasher, sink audit.Sink, logDir string, logger *zerolog.Logger) *Processor {
	return &Processor{
		accounts: accounts,
		sponsors: sponsors,
		hasher:   hasher,
		audit:    sink,
		logDir:   logDir,
		logger:   logger,
		now:      time.Now,
	}
}

type run struct {
	p      *Processor
	mode   Mode
	org    *model.Sponsor
	log    *csv.Writer
	result Result
}

// Process reads r line by line. A bad line, including one over MaxLineBytes, is logged
// and counted, never fatal. A read failure stops the file early, but the rows and the
// audit record for lines already processed are still written.
func (p *Processor) Process(ctx context.Context, r io.Reader, mode Mode, uploader model.Account, fileName string) (Result, error) {
	rn := &run{p: p, mode: mode}
	switch mode {
	case ModeAdmin:
	case ModeSponsor:
		org, err := p.sponsors.GetByAccountID(ctx, uploader.ID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return Result{}, ErrNoOrganization
			}
			return Result{}, fmt.Errorf("load organization: %w", err)
		}
		rn.org = &org
	default:
		return Result{}, fmt.Errorf("unknown bulk load mode %q", mode)
	}

	if err := os.MkdirAll(p.logDir, 0o750); err != nil {
		return Result{}, fmt.Errorf("create log dir: %w", err)
	}
	name := fmt.Sprintf("%s%s_%s%s", logPrefix, p.now().Format("20060102_150405"), uuid.NewString()[:8], logSuffix)
	f, err := os.OpenFile(filepath.Join(p.logDir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return Result{}, fmt.Errorf("create log file: %w", err)
	}
	defer f.Close()

	rn.log = csv.NewWriter(f)
	rn.result.LogFile = name
	if err := rn.log.Write(logHeader); err != nil {
		return Result{}, fmt.Errorf("write log: %w", err)
	}

	br := bufio.NewReader(r)
	lineNum := 0
	var readErr error
	for {
		raw, tooLong, err := readLine(br, MaxLineBytes)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = fmt.Errorf("read upload: %w", err)
			}
			break
		}
		lineNum++
		if tooLong {
			rn.result.Total++
			rn.fail(lineNum, "", "", fmt.Sprintf("Line exceeds %d bytes", MaxLineBytes))
			continue
		}
		line := strings.TrimSpace(string(raw))
		if line == "" {
			continue
		}
		fields := strings.Split(line, "|")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		rn.result.Total++
		rn.line(ctx, lineNum, fields)
	}

	// rows for lines already committed must reach the log even when reading failed
	rn.log.Flush()
	logErr := rn.log.Error()

	res := rn.result
	p.audit.Record(ctx, audit.KindBulkLoad,
		audit.F("by", uploader.Username), audit.F("mode", mode), audit.F("file", fileName),
		audit.F("total", res.Total), audit.F("success", res.Success), audit.F("failed", res.Failed),
		audit.F("sponsors", res.SponsorsCreated), audit.F("drivers", res.DriversCreated))
	if readErr != nil {
		p.logger.Error().Err(readErr).Str("file", fileName).Str("log", name).Int("total", res.Total).Msg("bulk load stopped early")
		return res, readErr
	}
	if logErr != nil {
		return res, fmt.Errorf("write log: %w", logErr)
	}
	p.logger.Info().Str("file", fileName).Str("log", name).Int("total", res.Total).Int("failed", res.Failed).Msg("bulk load processed")
	return res, nil
}

func (rn *run) line(ctx context.Context, lineNum int, fields []string) {
	recordType := strings.ToUpper(fields[0])
	raw := strings.Join(fields, "|")

	switch {
	case rn.mode == ModeAdmin && recordType == "S":
		if len(fields) < 5 {
			rn.fail(lineNum, recordType, raw, "Insufficient data for sponsor record")
			return
		}
		rn.createSponsor(ctx, lineNum, fields[1], fields[2], fields[3], fields[4])

	case rn.mode == ModeAdmin && recordType == "D":
		if len(fields) < 6 {
			rn.fail(lineNum, recordType, raw, "Insufficient data for driver record")
			return
		}
		org, err := rn.p.sponsors.GetByOrgName(ctx, fields[1])
		if err != nil {
			details := fmt.Sprintf("%s %s (%s)", fields[2], fields[3], fields[4])
			if errors.Is(err, repo.ErrNotFound) {
				rn.fail(lineNum, recordType, details, "Sponsor organization not found: "+fields[1])
			} else {
				rn.fail(lineNum, recordType, details, "Database error: "+err.Error())
			}
			return
		}
		rn.createDriver(ctx, lineNum, org, fields[2], fields[3], fields[4], fields[5])

	case rn.mode == ModeSponsor && recordType == "D":
		if len(fields) < 5 {
			rn.fail(lineNum, recordType, raw, "Insufficient data for driver record")
			return
		}
		rn.createDriver(ctx, lineNum, *rn.org, fields[1], fields[2], fields[3], fields[4])

	default:
		rn.fail(lineNum, recordType, raw, "Unknown record type: "+recordType)
	}
}

func (rn *run) createSponsor(ctx context.Context, lineNum int, orgName, first, last, email string) {
	details := fmt.Sprintf("%s %s (%s)", first, last, email)
	if msg := rn.checkPerson(ctx, first, last, email); msg != "" {
		rn.fail(lineNum, "S", details, msg)
		return
	}
	if _, err := rn.p.sponsors.GetByOrgName(ctx, orgName); err == nil {
		rn.fail(lineNum, "S", details, "Organization already exists: "+orgName)
		return
	} else if !errors.Is(err, repo.ErrNotFound) {
		rn.fail(lineNum, "S", details, "Database error: "+err.Error())
		return
	}

	username, password, na, err := rn.newAccount(ctx, first, last, email)
	if err != nil {
		rn.fail(lineNum, "S", details, "Database error: "+err.Error())
		return
	}
	if _, err := rn.p.accounts.CreateSponsor(ctx, na, orgName); err != nil {
		rn.fail(lineNum, "S", details, "Database error: "+err.Error())
		return
	}
	rn.result.SponsorsCreated++
	rn.ok(lineNum, "S", details, fmt.Sprintf("Username: %s, Password: %s", username, password))
}

func (rn *run) createDriver(ctx context.Context, lineNum int, org model.Sponsor, first, last, email, license string) {
	details := fmt.Sprintf("%s %s (%s)", first, last, email)
	if msg := rn.checkPerson(ctx, first, last, email); msg != "" {
		rn.fail(lineNum, "D", details, msg)
		return
	}

	username, password, na, err := rn.newAccount(ctx, first, last, email)
	if err != nil {
		rn.fail(lineNum, "D", details, "Database error: "+err.Error())
		return
	}
	sponsorID := org.AccountID
	if _, err := rn.p.accounts.CreateDriver(ctx, na, license, &sponsorID); err != nil {
		rn.fail(lineNum, "D", details, "Database error: "+err.Error())
		return
	}
	rn.result.DriversCreated++
	rn.ok(lineNum, "D", details, fmt.Sprintf("Username: %s, Password: %s", username, password))
}

// checkPerson returns a failure message, or "" when the person can be created
func (rn *run) checkPerson(ctx context.Context, first, last, email string) string {
	if first == "" || last == "" || email == "" {
		return "First name, last name and email are required"
	}
	if _, err := rn.p.accounts.GetByEmail(ctx, email); err == nil {
		return "Email already exists: " + email
	} else if !errors.Is(err, repo.ErrNotFound) {
		return "Database error: " + err.Error()
	}
	return ""
}

func (rn *run) newAccount(ctx context.Context, first, last, email string) (string, string, model.NewAccount, error) {
	username, err := rn.p.uniqueUsername(ctx, first, last)
	if err != nil {
		return "", "", model.NewAccount{}, err
	}
	password, err := auth.GenerateTempPassword(tempPasswordLength)
	if err != nil {
		return "", "", model.NewAccount{}, err
	}
	hash, err := rn.p.hasher.Hash(password)
	if err != nil {
		return "", "", model.NewAccount{}, err
	}
	return username, password, model.NewAccount{
		Username:     username,
		Email:        email,
		FirstName:    first,
		LastName:     last,
		PasswordHash: hash,
	}, nil
}

func (rn *run) ok(lineNum int, recordType, details, msg string) {
	rn.result.Success++
	rn.write(lineNum, recordType, statusSuccess, details, msg)
}

// readLine returns the next line without its terminator. A line longer than limit is
// drained and reported as tooLong.
func readLine(br *bufio.Reader, limit int) ([]byte, bool, error) {
	var line []byte
	tooLong := false
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) && (len(line) > 0 || tooLong) {
				return line, tooLong, nil
			}
			return nil, false, err
		}
		if !tooLong && len(line)+len(chunk) <= limit {
			line = append(line, chunk...)
		} else {
			tooLong, line = true, nil
		}
		if !isPrefix {
			return line, tooLong, nil
		}
	}
}

func (rn *run) fail(lineNum int, recordType, details, msg string) {
	rn.result.Failed++
	rn.write(lineNum, recordType, statusFailed, details, msg)
}

func (rn *run) write(lineNum int, recordType, status, details, msg string) {
	// write errors surface from Flush at the end of the file
	_ = rn.log.Write([]string{fmt.Sprint(lineNum), recordType, status, details, msg})
}

// BaseUsername is the first initial plus last name, lowercased, letters and digits only
func BaseUsername(first, last string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(firstRune(first) + last) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "user"
	}
	return b.String()
}

func firstRune(s string) string {
	for _, r := range s {
		return string(r)
	}
	return ""
}

func (p *Processor) uniqueUsername(ctx context.Context, first, last string) (string, error) {
	base := BaseUsername(first, last)
	candidate := base
	for i := 1; ; i++ {
		exists, err := p.accounts.UsernameExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		if i <= maxUsernameTries {
			candidate = fmt.Sprintf("%s%d", base, i)
		} else {
			candidate = fmt.Sprintf("%s%d", base, 1000+rand.Intn(9000))
		}
	}
}

// LogPath resolves a log file name from Result.LogFile inside the log directory
func (p *Processor) LogPath(name string) (string, error) {
	if name != filepath.Base(name) || !strings.HasPrefix(name, logPrefix) || !strings.HasSuffix(name, logSuffix) {
		return "", ErrBadLogName
	}
	path := filepath.Join(p.logDir, name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %w", ErrBadLogName, err)
	}
	return path, nil
}
