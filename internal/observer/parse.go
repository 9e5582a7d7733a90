package observer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"equity-router/pkg/types"
)

// securityTypeFromCN maps the broker's Chinese security-type labels.
func securityTypeFromCN(s string) types.SecurityType {
	switch s {
	case "現股":
		return types.Stock
	default:
		return types.Stock
	}
}

func actionFromWord(s string) (types.Action, error) {
	switch s {
	case "Buy":
		return types.Buy, nil
	case "Sell":
		return types.Sell, nil
	default:
		return "", fmt.Errorf("invalid action %q", s)
	}
}

// atTime combines a calendar date with an HHMMSS field on the exchange clock.
func atTime(date time.Time, hhmmss string) (time.Time, error) {
	t, err := time.Parse("150405", hhmmss)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: %w", hhmmss, err)
	}
	d := types.Midnight(date)
	return time.Date(d.Year(), d.Month(), d.Day(),
		t.Hour(), t.Minute(), t.Second(), 0, types.Taipei), nil
}

// parseSignalLine parses one upstream strategy signal line:
//
//	HHMMSS CODE.EX ORDER_TYPE ACTION QTY PRICE
func parseSignalLine(date time.Time, line string) (types.Signal, error) {
	fields := strings.Fields(line)
	if len(fields) != 6 {
		return types.Signal{}, fmt.Errorf("signal line: want 6 fields, got %d", len(fields))
	}
	st, err := atTime(date, fields[0])
	if err != nil {
		return types.Signal{}, fmt.Errorf("signal line: %w", err)
	}
	code, _, _ := strings.Cut(fields[1], ".")
	orderType := types.OrderType(fields[2])
	switch orderType {
	case types.ROD, types.IOC, types.FOK:
	default:
		return types.Signal{}, fmt.Errorf("signal line: invalid order type %q", fields[2])
	}
	action := types.Action(fields[3])
	if action != types.Buy && action != types.Sell {
		return types.Signal{}, fmt.Errorf("signal line: invalid action %q", fields[3])
	}
	qty, err := strconv.Atoi(fields[4])
	if err != nil {
		return types.Signal{}, fmt.Errorf("signal line: invalid quantity %q", fields[4])
	}
	price, err := decimal.NewFromString(fields[5])
	if err != nil {
		return types.Signal{}, fmt.Errorf("signal line: invalid price %q", fields[5])
	}
	return types.Signal{
		Source:       types.SourceXQ,
		Time:         st,
		SecurityType: types.Stock,
		Code:         code,
		OrderType:    orderType,
		PriceType:    types.LMT,
		Action:       action,
		Quantity:     qty,
		Price:        price,
	}, nil
}

// glueMsg reassembles a message field that itself contained commas, given
// the expected total field count.
func glueMsg(fields []string, msgIdx, want int) []string {
	if len(fields) <= want {
		return fields
	}
	extra := len(fields) - want
	glued := strings.Join(fields[msgIdx:msgIdx+extra+1], ",")
	out := append([]string{}, fields[:msgIdx]...)
	out = append(out, glued)
	out = append(out, fields[msgIdx+extra+1:]...)
	return out
}

// parseOrderLine parses one broker order callback row:
//
//	trader,order_id,SECTYPE,HHMMSS,CODE,ROD,Buy|Sell,QTY,PRICE,MSG,YYYY/MM/DD
func parseOrderLine(line string) (types.Order, error) {
	fields := glueMsg(strings.Split(line, ","), 9, 11)
	if len(fields) != 11 {
		return types.Order{}, fmt.Errorf("order callback: want 11 fields, got %d", len(fields))
	}
	date, err := time.ParseInLocation("2006/01/02", fields[10], types.Taipei)
	if err != nil {
		return types.Order{}, fmt.Errorf("order callback: invalid date %q", fields[10])
	}
	ot, err := atTime(date, fields[3])
	if err != nil {
		return types.Order{}, fmt.Errorf("order callback: %w", err)
	}
	action, err := actionFromWord(fields[6])
	if err != nil {
		return types.Order{}, fmt.Errorf("order callback: %w", err)
	}
	qty, err := strconv.Atoi(fields[7])
	if err != nil {
		return types.Order{}, fmt.Errorf("order callback: invalid qty %q", fields[7])
	}
	price, err := decimal.NewFromString(fields[8])
	if err != nil {
		return types.Order{}, fmt.Errorf("order callback: invalid price %q", fields[8])
	}
	msg := fields[9]
	status := "New"
	if msg != "" {
		status = "Failed"
	}
	return types.Order{
		TraderID:     fields[0],
		OrderID:      fields[1],
		SecurityType: securityTypeFromCN(fields[2]),
		Time:         ot,
		Code:         fields[4],
		OrderType:    types.OrderType(fields[5]),
		Action:       action,
		Qty:          qty,
		Price:        price,
		PriceType:    types.LMT,
		Status:       status,
		Msg:          msg,
	}, nil
}

// parseTradeLine parses one broker trade callback row: the order callback
// layout plus a trailing seqno.
func parseTradeLine(line string) (types.Trade, error) {
	fields := glueMsg(strings.Split(line, ","), 9, 12)
	if len(fields) != 12 {
		return types.Trade{}, fmt.Errorf("trade callback: want 12 fields, got %d", len(fields))
	}
	date, err := time.ParseInLocation("2006/01/02", fields[10], types.Taipei)
	if err != nil {
		return types.Trade{}, fmt.Errorf("trade callback: invalid date %q", fields[10])
	}
	tt, err := atTime(date, fields[3])
	if err != nil {
		return types.Trade{}, fmt.Errorf("trade callback: %w", err)
	}
	action, err := actionFromWord(fields[6])
	if err != nil {
		return types.Trade{}, fmt.Errorf("trade callback: %w", err)
	}
	qty, err := strconv.Atoi(fields[7])
	if err != nil {
		return types.Trade{}, fmt.Errorf("trade callback: invalid qty %q", fields[7])
	}
	price, err := decimal.NewFromString(fields[8])
	if err != nil {
		return types.Trade{}, fmt.Errorf("trade callback: invalid price %q", fields[8])
	}
	return types.Trade{
		TraderID:     fields[0],
		OrderID:      fields[1],
		SecurityType: securityTypeFromCN(fields[2]),
		Time:         tt,
		Code:         fields[4],
		OrderType:    types.OrderType(fields[5]),
		Action:       action,
		Qty:          qty,
		Price:        price,
		Seqno:        fields[11],
	}, nil
}

// parsePositionLine parses one broker position callback row:
//
//	trader,HHMMSS,SECTYPE,CODE,SHARES,AVGPX,CLOSED_PNL,OPEN_PNL,PNL_CHG,CUM_RETURN
func parsePositionLine(date time.Time, line string) (types.SF31Position, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 10 {
		return types.SF31Position{}, fmt.Errorf("position callback: want 10 fields, got %d", len(fields))
	}
	pt, err := atTime(date, fields[1])
	if err != nil {
		return types.SF31Position{}, fmt.Errorf("position callback: %w", err)
	}
	shares, err := strconv.Atoi(fields[4])
	if err != nil {
		return types.SF31Position{}, fmt.Errorf("position callback: invalid shares %q", fields[4])
	}
	var decs [4]decimal.Decimal
	for i, idx := range []int{5, 6, 7, 8} {
		d, err := decimal.NewFromString(fields[idx])
		if err != nil {
			return types.SF31Position{}, fmt.Errorf("position callback: invalid field %q", fields[idx])
		}
		decs[i] = d
	}
	cumReturn, err := strconv.ParseFloat(fields[9], 64)
	if err != nil {
		return types.SF31Position{}, fmt.Errorf("position callback: invalid cum_return %q", fields[9])
	}
	action := types.Buy
	if shares < 0 {
		action = types.Sell
	}
	return types.SF31Position{
		TraderID:     fields[0],
		PTime:        pt,
		SecurityType: securityTypeFromCN(fields[2]),
		Code:         fields[3],
		Action:       action,
		Shares:       shares,
		AvgPrice:     decs[0],
		ClosedPnL:    decs[1],
		OpenPnL:      decs[2],
		PnLChg:       decs[3],
		CumReturn:    cumReturn,
	}, nil
}
