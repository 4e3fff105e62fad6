package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"stockarena/internal/contest"
	"stockarena/internal/lifecycle"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

type contestsPayload struct {
	Contests []contest.Contest `json:"contests"`
}

type timersPayload struct {
	Timers []lifecycle.ScheduledTimer `json:"timers"`
}

type stocksPayload struct {
	Stocks []contest.Stock `json:"stocks"`
}

type transactionsPayload struct {
	UserID       string                    `json:"user_id"`
	Transactions []contest.CoinTransaction `json:"transactions"`
}

type payoutsPayload struct {
	ContestID int64              `json:"contest_id"`
	Payouts   []lifecycle.Payout `json:"payouts"`
}

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func renderContests(raw map[string]any) error {
	out, err := decodeInto[contestsPayload](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== CONTESTS ==")
	if len(out.Contests) == 0 {
		printInfo("No contests.")
		return nil
	}
	fmt.Printf("%-6s %-24s %-10s %10s %12s %-17s %-17s\n", "ID", "NAME", "STATUS", "FEE", "POOL", "START", "END")
	for _, c := range out.Contests {
		fmt.Printf("%-6d %-24s %-10s %10s %12s %-17s %-17s\n",
			c.ID,
			truncate(c.Name, 24),
			colorizeStatus(c.Status),
			c.EntryFee.StringFixed(2),
			c.PrizePool.StringFixed(2),
			formatTime(c.StartTime),
			formatTime(c.EndTime),
		)
	}
	fmt.Println()
	return nil
}

func renderContest(raw map[string]any) error {
	c, err := decodeInto[contest.Contest](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== CONTEST #%d ==\n", c.ID)
	fmt.Printf("Name:         %s\n", c.Name)
	fmt.Printf("Status:       %s\n", colorizeStatus(c.Status))
	fmt.Printf("Entry fee:    %s\n", c.EntryFee.StringFixed(2))
	fmt.Printf("Prize pool:   %s\n", c.PrizePool.StringFixed(2))
	if c.MaxParticipants > 0 {
		fmt.Printf("Max entries:  %d\n", c.MaxParticipants)
	} else {
		fmt.Printf("Max entries:  unlimited\n")
	}
	fmt.Printf("Start:        %s\n", formatTime(c.StartTime))
	fmt.Printf("End:          %s\n", formatTime(c.EndTime))
	if c.PrizesDistributedAt != nil {
		fmt.Printf("Prizes paid:  %s\n", formatTime(*c.PrizesDistributedAt))
	}
	fmt.Println()
	return nil
}

func renderLeaderboard(raw map[string]any) error {
	lb, err := decodeInto[lifecycle.Leaderboard](raw)
	if err != nil {
		return err
	}
	title := "LIVE LEADERBOARD"
	if lb.Final {
		title = "FINAL RESULTS"
	}
	accent.Printf("\n== %s #%d ==\n", title, lb.ContestID)
	if lb.AsOf != nil {
		printInfo("as of " + formatTime(*lb.AsOf))
	}
	if len(lb.Rows) == 0 {
		printInfo("No leaderboard rows yet.")
		return nil
	}
	fmt.Printf("%-6s %-20s %14s %10s %6s\n", "RANK", "USER", "VALUE", "ROI", "MOVE")
	for _, row := range lb.Rows {
		move := ""
		if row.RankChange != nil {
			move = colorizeMove(*row.RankChange)
		}
		fmt.Printf("%-6d %-20s %14s %10s %6s\n",
			row.Rank,
			truncate(row.UserID, 20),
			row.PortfolioValue.StringFixed(2),
			colorizePercent(row.ROI),
			move,
		)
	}
	fmt.Println()
	return nil
}

func renderTimers(raw map[string]any) error {
	out, err := decodeInto[timersPayload](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== SCHEDULED TIMERS ==")
	if len(out.Timers) == 0 {
		printInfo("No pending timers.")
		return nil
	}
	fmt.Printf("%-8s %-6s %-20s %s\n", "CONTEST", "KIND", "AT", "JOB")
	for _, t := range out.Timers {
		fmt.Printf("%-8d %-6s %-20s %s\n", t.ContestID, t.Kind, formatTime(t.At), t.JobID)
	}
	if !out.Timers[0].Armed {
		printWarn("Scheduler is not running in the API process; these timers will not fire there.")
	}
	fmt.Println()
	return nil
}

func renderStocks(raw map[string]any) error {
	out, err := decodeInto[stocksPayload](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== STOCKS ==")
	if len(out.Stocks) == 0 {
		printInfo("No stocks priced yet.")
		return nil
	}
	fmt.Printf("%-10s %-24s %14s %-17s\n", "SYMBOL", "NAME", "PRICE", "UPDATED")
	for _, st := range out.Stocks {
		fmt.Printf("%-10s %-24s %14s %-17s\n", st.Symbol, truncate(st.Name, 24), st.CurrentPrice.StringFixed(4), formatTime(st.UpdatedAt))
	}
	fmt.Println()
	return nil
}

func renderUser(raw map[string]any) error {
	u, err := decodeInto[contest.User](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== USER %s ==\n", u.ID)
	if u.Username != "" {
		fmt.Printf("Username: %s\n", u.Username)
	}
	fmt.Printf("Coins:    %s\n\n", u.Coins.StringFixed(2))
	return nil
}

func renderTransactions(raw map[string]any) error {
	out, err := decodeInto[transactionsPayload](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== TRANSACTIONS %s ==\n", out.UserID)
	if len(out.Transactions) == 0 {
		printInfo("No transactions.")
		return nil
	}
	fmt.Printf("%-17s %-14s %12s %12s  %s\n", "AT", "TYPE", "AMOUNT", "BALANCE", "DESCRIPTION")
	for _, tx := range out.Transactions {
		fmt.Printf("%-17s %-14s %12s %12s  %s\n",
			formatTime(tx.CreatedAt),
			tx.Type,
			colorizeAmount(tx.Amount),
			tx.CoinsAfter.StringFixed(2),
			truncate(tx.Description, 48),
		)
	}
	fmt.Println()
	return nil
}

func renderPayouts(raw map[string]any) error {
	out, err := decodeInto[payoutsPayload](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== PRIZES #%d ==\n", out.ContestID)
	if len(out.Payouts) == 0 {
		printInfo("No ranked entries to pay.")
		return nil
	}
	for _, p := range out.Payouts {
		note := ""
		if p.AlreadyPaid {
			note = warn.Sprint(" (already paid)")
		}
		fmt.Printf("#%d %-20s %s%s\n", p.Rank, truncate(p.UserID, 20), colorizeAmount(p.Amount), note)
	}
	fmt.Println()
	return nil
}

func decodeInto[T any](in any) (T, error) {
	var out T
	raw, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func colorizeStatus(s contest.Status) string {
	switch s {
	case contest.StatusActive:
		return success.Sprint(s)
	case contest.StatusCancelled:
		return danger.Sprint(s)
	case contest.StatusCompleted:
		return accent.Sprint(s)
	default:
		return neutral.Sprint(s)
	}
}

func colorizeAmount(v decimal.Decimal) string {
	text := v.StringFixed(2)
	switch v.Sign() {
	case 1:
		return success.Sprint("+" + text)
	case -1:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func colorizePercent(v decimal.Decimal) string {
	text := v.StringFixed(2) + "%"
	switch v.Sign() {
	case 1:
		return success.Sprint("+" + text)
	case -1:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func colorizeMove(delta int) string {
	switch {
	case delta > 0:
		return success.Sprintf("+%d", delta)
	case delta < 0:
		return danger.Sprintf("%d", delta)
	default:
		return neutral.Sprint("=")
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
