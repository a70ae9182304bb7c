package home

import (
	"fmt"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/cadence/proc"
	"github.com/leeineian/cadence/sys"
)

func init() {
	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "stock-ticker",
		Description: "Get the stock ticker of a company",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionString{
				Name:        "company",
				Description: "Company name to look up",
				Required:    true,
			},
		},
	}, handleStockTicker)

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "stock-info",
		Description: "Get historical information about a stock",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionString{
				Name:        "ticker",
				Description: "Stock ticker symbol (e.g., AAPL)",
				Required:    true,
			},
		},
	}, handleStockInfo)
}

// stocksOrRefuse applies the cooldown and answers when the service is not configured.
func stocksOrRefuse(event *events.ApplicationCommandInteractionCreate) *proc.Stocks {
	if !sys.CheckCooldown(event, sys.StockCooldown) {
		return nil
	}
	s := proc.GetStocks()
	if s == nil {
		sys.Respond(event, sys.MsgStocksDisabled, true)
	}
	return s
}

func handleStockTicker(event *events.ApplicationCommandInteractionCreate) {
	s := stocksOrRefuse(event)
	if s == nil {
		return
	}
	company := event.SlashCommandInteractionData().String("company")
	sys.Defer(event, false)

	ctx, cancel := contextWithTimeout(sys.Timeouts.StockAPI * 4)
	defer cancel()
	ticker, err := s.FindTicker(ctx, company)
	text := ""
	if err == nil {
		text = fmt.Sprintf(sys.MsgStocksTicker, company, ticker)
	}
	sys.EditResponse(event, outcome(sys.LogStocks, "get the stock ticker", text, err))
}

func handleStockInfo(event *events.ApplicationCommandInteractionCreate) {
	s := stocksOrRefuse(event)
	if s == nil {
		return
	}
	ticker := event.SlashCommandInteractionData().String("ticker")
	sys.Defer(event, false)

	ctx, cancel := contextWithTimeout(sys.Timeouts.StockAPI * 4)
	defer cancel()
	symbol, data, err := s.DailyCSV(ctx, ticker)
	if err != nil {
		sys.EditResponse(event, outcome(sys.LogStocks, "get stock information", "", err))
		return
	}
	sys.EditResponseWithFile(event, fmt.Sprintf(sys.MsgStocksCSVReady, symbol), "stocks.csv", data)
}
