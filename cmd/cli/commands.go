package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/spf13/pflag"

	"github.com/and161185/cardkeeper/internal/convert"
	"github.com/and161185/cardkeeper/internal/model"
	grpcserver "github.com/and161185/cardkeeper/internal/server/grpc"
	"github.com/and161185/cardkeeper/internal/service"
)

type command func(ctx context.Context, cl *grpcserver.Client, args []string, out io.Writer) error

var commands = map[string]command{
	"due":     dueCmd,
	"review":  reviewCmd,
	"health":  healthCmd,
	"repair":  repairCmd,
	"backups": backupsCmd,
	"restore": restoreCmd,
}

func call(ctx context.Context, cl *grpcserver.Client, method string, req map[string]any) (map[string]any, error) {
	in, err := convert.ToStruct(req)
	if err != nil {
		return nil, err
	}
	out, err := cl.Call(ctx, method, in)
	if err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func parseUUID(name, v string, required bool) (string, error) {
	if v == "" {
		if required {
			return "", fmt.Errorf("need --%s", name)
		}
		return "", nil
	}
	if _, err := uuid.FromString(v); err != nil {
		return "", fmt.Errorf("--%s: %w", name, err)
	}
	return v, nil
}

type dueRow struct {
	CardID   string `json:"cardId"`
	Deck     string `json:"deck"`
	Question string `json:"question"`
	Due      string `json:"due"`
}

func dueCmd(ctx context.Context, cl *grpcserver.Client, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("due", pflag.ContinueOnError)
	deck := fs.String("deck", "", "deck id")
	course := fs.String("course", "", "course id")
	limit := fs.Int("limit", 0, "max cards (default 20)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	deckID, err := parseUUID("deck", *deck, false)
	if err != nil {
		return err
	}
	req := map[string]any{"courseId": *course, "limit": *limit}
	if deckID != "" {
		req["deckId"] = deckID
	}

	in, err := convert.ToStruct(req)
	if err != nil {
		return err
	}
	resp, err := cl.Call(ctx, grpcserver.MethodGetDueCards, in)
	if err != nil {
		return err
	}
	var cards []model.DueCard
	if err := convert.Unwrap(resp, "cards", &cards); err != nil {
		return err
	}

	// short rows
	rows := make([]dueRow, 0, len(cards))
	for _, c := range cards {
		r := dueRow{CardID: c.ID.String(), Deck: c.DeckTitle, Question: c.Question, Due: "new"}
		if c.NextReviewDue != nil {
			r.Due = c.NextReviewDue.Format(time.RFC3339)
		}
		rows = append(rows, r)
	}
	printJSON(out, rows)
	return nil
}

func reviewCmd(ctx context.Context, cl *grpcserver.Client, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("review", pflag.ContinueOnError)
	deck := fs.String("deck", "", "deck id")
	card := fs.String("card", "", "card id")
	rating := fs.String("rating", "", "again, hard, good, easy or 1..4")
	correct := fs.Bool("correct", false, "override correctness")
	thinking := fs.Float64("thinking", 0, "thinking time in seconds")
	confidence := fs.Int("confidence", 0, "confidence 1..5")
	if err := fs.Parse(args); err != nil {
		return err
	}
	deckID, err := parseUUID("deck", *deck, true)
	if err != nil {
		return err
	}
	cardID, err := parseUUID("card", *card, true)
	if err != nil {
		return err
	}
	r, err := model.ParseRating(*rating)
	if err != nil {
		return err
	}

	req := map[string]any{"deckId": deckID, "cardId": cardID, "rating": int(r)}
	if fs.Changed("correct") {
		req["isCorrect"] = *correct
	}
	if fs.Changed("thinking") {
		req["thinkingTime"] = *thinking
	}
	if fs.Changed("confidence") {
		req["confidence"] = *confidence
	}
	res, err := call(ctx, cl, grpcserver.MethodSubmitReview, req)
	if err != nil {
		return err
	}
	printJSON(out, res)
	return nil
}

func scopeFlags(name string, args []string) (map[string]any, error) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	user := fs.String("user", "", "user id (admin only for other users)")
	all := fs.Bool("all", false, "every user (admin only)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *all && *user != "" {
		return nil, errors.New("--user and --all are exclusive")
	}
	return map[string]any{"userId": *user, "all": *all}, nil
}

func healthCmd(ctx context.Context, cl *grpcserver.Client, args []string, out io.Writer) error {
	req, err := scopeFlags("health", args)
	if err != nil {
		return err
	}
	in, err := convert.ToStruct(req)
	if err != nil {
		return err
	}
	resp, err := cl.Call(ctx, grpcserver.MethodCheckIntegrity, in)
	if err != nil {
		return err
	}
	var rep model.IntegrityReport
	if err := convert.FromStruct(resp, &rep); err != nil {
		return err
	}
	printJSON(out, rep)
	if !rep.Clean() {
		return fmt.Errorf("%d integrity issue(s) found", rep.IssueCount())
	}
	return nil
}

func repairCmd(ctx context.Context, cl *grpcserver.Client, args []string, out io.Writer) error {
	req, err := scopeFlags("repair", args)
	if err != nil {
		return err
	}
	in, err := convert.ToStruct(req)
	if err != nil {
		return err
	}
	resp, err := cl.Call(ctx, grpcserver.MethodRepairIntegrity, in)
	if err != nil {
		return err
	}
	var res service.RepairResult
	if err := convert.FromStruct(resp, &res); err != nil {
		return err
	}
	printJSON(out, res)
	if res.Failed > 0 {
		return fmt.Errorf("%d deck(s) could not be repaired", res.Failed)
	}
	return nil
}

type backupRow struct {
	DeckID    string `json:"deckId"`
	Operation string `json:"operation"`
	Timestamp string `json:"timestamp"`
	Cards     int    `json:"cards"`
}

func backupsCmd(ctx context.Context, cl *grpcserver.Client, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("backups", pflag.ContinueOnError)
	deck := fs.String("deck", "", "deck id")
	limit := fs.Int("limit", 0, "max records (default 10)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	deckID, err := parseUUID("deck", *deck, false)
	if err != nil {
		return err
	}
	req := map[string]any{"limit": *limit}
	if deckID != "" {
		req["deckId"] = deckID
	}
	in, err := convert.ToStruct(req)
	if err != nil {
		return err
	}
	resp, err := cl.Call(ctx, grpcserver.MethodBackupHistory, in)
	if err != nil {
		return err
	}
	var recs []model.BackupRecord
	if err := convert.Unwrap(resp, "records", &recs); err != nil {
		return err
	}
	rows := make([]backupRow, 0, len(recs))
	for _, r := range recs {
		row := backupRow{DeckID: r.DeckID.String(), Operation: r.Operation, Timestamp: r.Timestamp.Format(time.RFC3339Nano)}
		if r.Payload != nil {
			row.Cards = len(r.Payload.Cards)
		}
		rows = append(rows, row)
	}
	printJSON(out, rows)
	return nil
}

func restoreCmd(ctx context.Context, cl *grpcserver.Client, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("restore", pflag.ContinueOnError)
	deck := fs.String("deck", "", "deck id")
	at := fs.String("at", "", "backup timestamp (RFC 3339)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	deckID, err := parseUUID("deck", *deck, true)
	if err != nil {
		return err
	}
	ts, err := time.Parse(time.RFC3339Nano, *at)
	if err != nil {
		return fmt.Errorf("--at: %w", err)
	}
	res, err := call(ctx, cl, grpcserver.MethodRestoreBackup, map[string]any{"deckId": deckID, "timestamp": ts})
	if err != nil {
		return err
	}
	printJSON(out, res)
	return nil
}
