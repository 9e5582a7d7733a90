package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"equity-router/pkg/types"
)

const (
	dateFormat = "2006-01-02"
	timeFormat = "15:04:05.000000"
)

// Postgres implements Store on a Postgres/Timescale schema.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects a pgx pool to the given DSN.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) GetStrategies(ctx context.Context) (map[int]types.Strategy, error) {
	rows, err := p.pool.Query(ctx, `
		select id, name, add_date, status, leverage_ratio, holding_period,
		       order_low_ratio, exit_stop_loss, exit_take_profit,
		       exit_dp_days, exit_dp_profit_limit,
		       exit_pullback_ratio, exit_pullback_threshold,
		       enable_raise, enable_dividend
		from dealer.strategy`)
	if err != nil {
		return nil, fmt.Errorf("get strategies: %w", err)
	}
	defer rows.Close()

	out := make(map[int]types.Strategy)
	for rows.Next() {
		var st types.Strategy
		if err := rows.Scan(
			&st.ID, &st.Name, &st.AddDate, &st.Status, &st.LeverageRatio,
			&st.HoldingPeriod, &st.OrderLowRatio, &st.ExitStopLoss,
			&st.ExitTakeProfit, &st.ExitDPDays, &st.ExitDPProfitLimit,
			&st.ExitPullbackRatio, &st.ExitPullbackThreshold,
			&st.EnableRaise, &st.EnableDividend,
		); err != nil {
			return nil, fmt.Errorf("scan strategy: %w", err)
		}
		out[st.ID] = st
	}
	return out, rows.Err()
}

func (p *Postgres) GetPositions(ctx context.Context) (map[types.StrategyCode]types.Position, error) {
	rows, err := p.pool.Query(ctx, `
		select strategy, code, action, qty, cost_amt, avg_prc,
		       first_entry_date, high_since_entry, low_since_entry
		from dealer.ft_get_positions_fifo(CURRENT_DATE, 'B')`)
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	defer rows.Close()

	out := make(map[types.StrategyCode]types.Position)
	for rows.Next() {
		var pos types.Position
		var action string
		if err := rows.Scan(
			&pos.Strategy, &pos.Code, &action, &pos.Qty, &pos.CostAmt,
			&pos.AvgPrice, &pos.FirstEntryDate,
			&pos.HighSinceEntry, &pos.LowSinceEntry,
		); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		pos.Action = types.Action(action)
		out[types.StrategyCode{Strategy: pos.Strategy, Code: pos.Code}] = pos
	}
	return out, rows.Err()
}

func (p *Postgres) GetContracts(ctx context.Context) (map[string]types.Contract, error) {
	rows, err := p.pool.Query(ctx, `
		select code, name, reference::text, limit_up::text, limit_down::text, update_date
		from sino.contracts
		where length(code) = 4 and security_type = 'STK'`)
	if err != nil {
		return nil, fmt.Errorf("get contracts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]types.Contract)
	for rows.Next() {
		var ct types.Contract
		var ref, up, down string
		if err := rows.Scan(&ct.Code, &ct.Name, &ref, &up, &down, &ct.UpdateDate); err != nil {
			return nil, fmt.Errorf("scan contract: %w", err)
		}
		if ct.Reference, err = decimal.NewFromString(ref); err != nil {
			return nil, fmt.Errorf("contract %s reference: %w", ct.Code, err)
		}
		if ct.LimitUp, err = decimal.NewFromString(up); err != nil {
			return nil, fmt.Errorf("contract %s limit_up: %w", ct.Code, err)
		}
		if ct.LimitDown, err = decimal.NewFromString(down); err != nil {
			return nil, fmt.Errorf("contract %s limit_down: %w", ct.Code, err)
		}
		out[ct.Code] = ct
	}
	return out, rows.Err()
}

func (p *Postgres) GetQuoteSnapshots(ctx context.Context, codes []string) (map[string]types.QuoteSnapshot, error) {
	rows, err := p.pool.Query(ctx, `
		select dt, code, open, high, low, close, volume, total_volume,
		       amount, total_amount, buy_price, buy_volume, sell_price, sell_volume
		from public.quote_snapshots
		where code = any($1)`, codes)
	if err != nil {
		return nil, fmt.Errorf("get quote snapshots: %w", err)
	}
	defer rows.Close()

	out := make(map[string]types.QuoteSnapshot)
	for rows.Next() {
		var s types.QuoteSnapshot
		if err := rows.Scan(
			&s.DT, &s.Code, &s.Open, &s.High, &s.Low, &s.Close,
			&s.Volume, &s.TotalVolume, &s.Amount, &s.TotalAmount,
			&s.BuyPrice, &s.BuyVolume, &s.SellPrice, &s.SellVolume,
		); err != nil {
			return nil, fmt.Errorf("scan quote snapshot: %w", err)
		}
		s.DT = s.DT.In(types.Taipei)
		out[s.Code] = s
	}
	return out, rows.Err()
}

func (p *Postgres) GetTradingDates(ctx context.Context) ([]time.Time, error) {
	rows, err := p.pool.Query(ctx, `
		select date from public.trading_dates order by date`)
	if err != nil {
		return nil, fmt.Errorf("get trading dates: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan trading date: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) GetComingDividends(ctx context.Context) (map[string]types.ComingDividend, error) {
	rows, err := p.pool.Query(ctx, `
		select code, ex_date from public.coming_dividends
		where ex_date >= CURRENT_DATE`)
	if err != nil {
		return nil, fmt.Errorf("get coming dividends: %w", err)
	}
	defer rows.Close()

	out := make(map[string]types.ComingDividend)
	for rows.Next() {
		var d types.ComingDividend
		if err := rows.Scan(&d.Code, &d.ExDate); err != nil {
			return nil, fmt.Errorf("scan coming dividend: %w", err)
		}
		out[d.Code] = d
	}
	return out, rows.Err()
}

func (p *Postgres) SaveSignal(ctx context.Context, sig types.Signal, dec types.Decision) error {
	_, err := p.pool.Exec(ctx, `
		insert into dealer.signals
			(id, source, sdate, stime, strategy_id, security_type, code,
			 order_type, price_type, action, quantity, price, exit_type,
			 rm_validated, rm_reject_reason)
		select $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		where not exists (
			select 1 from dealer.signals where id = $1 and sdate = $3
		)`,
		sig.ID, string(sig.Source),
		sig.Time.Format(dateFormat), sig.Time.Format(timeFormat),
		sig.StrategyID, string(sig.SecurityType), sig.Code,
		string(sig.OrderType), string(sig.PriceType), string(sig.Action),
		sig.Quantity, sig.Price.String(), string(sig.ExitType),
		dec.Validated, string(dec.Reason),
	)
	if err != nil {
		return fmt.Errorf("save signal %s: %w", sig.ID, err)
	}
	return nil
}

func (p *Postgres) SaveBrokerOrder(ctx context.Context, o types.BrokerOrder) error {
	_, err := p.pool.Exec(ctx, `
		insert into dealer.sf31_orders
			(signal_id, sfdate, sftime, strategy_id, security_type, code,
			 order_type, price_type, action, quantity, price, order_id)
		select $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		where not exists (
			select 1 from dealer.sf31_orders
			where signal_id = $1 and sfdate = $2 and sftime = $3
			  and strategy_id = $4 and code = $6 and quantity = $10 and price = $11::numeric
		)`,
		o.SignalID, o.Time.Format(dateFormat), o.Time.Format(timeFormat),
		o.StrategyID, string(o.SecurityType), o.Code,
		string(o.OrderType), string(o.PriceType), string(o.Action),
		o.Quantity, o.Price.String(), o.OrderID,
	)
	if err != nil {
		return fmt.Errorf("save sf31 order %s: %w", o.SignalID, err)
	}
	return nil
}

func (p *Postgres) UpdateBrokerOrderID(ctx context.Context, o types.BrokerOrder) error {
	_, err := p.pool.Exec(ctx, `
		update dealer.sf31_orders set order_id = $1
		where signal_id = $2 and strategy_id = $3 and sfdate = $4 and sftime = $5
		  and code = $6 and price = $7::numeric and quantity = $8 and action = $9`,
		o.OrderID, o.SignalID, o.StrategyID,
		o.Time.Format(dateFormat), o.Time.Format(timeFormat),
		o.Code, o.Price.String(), o.Quantity, string(o.Action),
	)
	if err != nil {
		return fmt.Errorf("update sf31 order %s: %w", o.SignalID, err)
	}
	return nil
}

func (p *Postgres) SaveOrder(ctx context.Context, o types.Order) error {
	// "00000" marks synthetic offset orders, which never collide on order_id.
	var err error
	if o.OrderID == "00000" {
		_, err = p.pool.Exec(ctx, `
			insert into dealer.orders
				(trader_id, strategy, order_id, security_type, order_date,
				 order_time, code, action, order_price, order_qty,
				 order_type, price_type, status, msg)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			o.TraderID, o.Strategy, o.OrderID, string(o.SecurityType),
			o.Time.Format(dateFormat), o.Time.Format(timeFormat),
			o.Code, string(o.Action), o.Price.String(), o.Qty,
			string(o.OrderType), string(o.PriceType), o.Status, o.Msg,
		)
	} else {
		_, err = p.pool.Exec(ctx, `
			insert into dealer.orders
				(trader_id, strategy, order_id, security_type, order_date,
				 order_time, code, action, order_price, order_qty,
				 order_type, price_type, status, msg)
			select $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
			where not exists (
				select 1 from dealer.orders where order_date = $5 and order_id = $3
			)`,
			o.TraderID, o.Strategy, o.OrderID, string(o.SecurityType),
			o.Time.Format(dateFormat), o.Time.Format(timeFormat),
			o.Code, string(o.Action), o.Price.String(), o.Qty,
			string(o.OrderType), string(o.PriceType), o.Status, o.Msg,
		)
	}
	if err != nil {
		return fmt.Errorf("save order %s: %w", o.OrderID, err)
	}
	return nil
}

func (p *Postgres) SaveTrade(ctx context.Context, t types.Trade) error {
	_, err := p.pool.Exec(ctx, `
		insert into dealer.trades
			(trader_id, strategy, order_id, order_type, seqno, security_type,
			 trade_date, trade_time, code, action, price, qty)
		select $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		where not exists (
			select 1 from dealer.trades
			where order_id = $3 and trade_date = $7 and seqno = $5
		)`,
		t.TraderID, t.Strategy, t.OrderID, string(t.OrderType), t.Seqno,
		string(t.SecurityType), t.Time.Format(dateFormat), t.Time.Format(timeFormat),
		t.Code, string(t.Action), t.Price.String(), t.Qty,
	)
	if err != nil {
		return fmt.Errorf("save trade %s/%s: %w", t.OrderID, t.Seqno, err)
	}
	return nil
}

func (p *Postgres) SavePositions(ctx context.Context, ps []types.SF31Position) error {
	for _, pos := range ps {
		_, err := p.pool.Exec(ctx, `
			insert into dealer.sf31_positions
				(trader_id, ptime, security_type, code, action, shares,
				 avg_price, closed_pnl, open_pnl, pnl_chg, cum_return)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			on conflict (code) do update set
				trader_id = excluded.trader_id,
				ptime = excluded.ptime,
				action = excluded.action,
				shares = excluded.shares,
				avg_price = excluded.avg_price,
				closed_pnl = excluded.closed_pnl,
				open_pnl = excluded.open_pnl,
				pnl_chg = excluded.pnl_chg,
				cum_return = excluded.cum_return`,
			pos.TraderID, pos.PTime.Format(timeFormat), string(pos.SecurityType),
			pos.Code, string(pos.Action), pos.Shares,
			pos.AvgPrice.String(), pos.ClosedPnL.String(), pos.OpenPnL.String(),
			pos.PnLChg.String(), pos.CumReturn,
		)
		if err != nil {
			return fmt.Errorf("save position %s: %w", pos.Code, err)
		}
	}
	return nil
}
