package trading

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	futures "github.com/adshao/go-binance/v2/futures"
)

func openPositions(positions []*futures.AccountPosition) []*futures.AccountPosition {
	var open []*futures.AccountPosition
	for _, p := range positions {
		amt, err := strconv.ParseFloat(p.PositionAmt, 64)
		if err != nil || amt == 0 {
			continue
		}
		open = append(open, p)
	}
	return open
}

func buildReport(account *futures.Account, orders []*futures.Order, now time.Time) string {
	var sb strings.Builder
	banner := strings.Repeat("=", 60)
	rule := strings.Repeat("-", 60)

	sb.WriteString(banner + "\n")
	sb.WriteString("TRADING BOT REPORT\n")
	sb.WriteString("Generated: " + now.Format("2006-01-02 15:04:05") + "\n")
	sb.WriteString(banner + "\n\n")

	fmt.Fprintf(&sb, "Account Balance: %s USDT\n", account.TotalWalletBalance)
	fmt.Fprintf(&sb, "Account Equity: %s USDT\n\n", account.TotalMarginBalance)

	sb.WriteString("OPEN POSITIONS:\n")
	sb.WriteString(rule + "\n")
	positions := openPositions(account.Positions)
	if len(positions) == 0 {
		sb.WriteString("No open positions\n")
	} else {
		tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "Symbol\tAmount\tEntry Price\tP&L\tLeverage")
		for _, p := range positions {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				p.Symbol, p.PositionAmt, p.EntryPrice, p.UnrealizedProfit, p.Leverage)
		}
		tw.Flush()
	}
	sb.WriteString("\n")

	sb.WriteString("OPEN ORDERS:\n")
	sb.WriteString(rule + "\n")
	if len(orders) == 0 {
		sb.WriteString("No open orders\n")
	} else {
		tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "Symbol\tSide\tType\tQuantity\tPrice\tStatus")
		for _, o := range orders {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				o.Symbol, o.Side, o.Type, o.OrigQuantity, o.Price, o.Status)
		}
		tw.Flush()
	}

	sb.WriteString("\n" + banner + "\n")
	return sb.String()
}

// Report renders a plain text summary of the account, its open positions
// and open orders.
func (b *Bot) Report(ctx context.Context) (string, error) {
	account, err := b.AccountInfo(ctx)
	if err != nil {
		return "", err
	}
	orders, err := b.OpenOrders(ctx, "")
	if err != nil {
		return "", err
	}
	return buildReport(account, orders, time.Now()), nil
}
