// Package visual 用 go-echarts 渲染回测图表，输出自包含的 HTML 页面。
package visual

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"agentrade/internal/market"
)

// Point 为资金曲线上的一个点。
type Point struct {
	Time  time.Time
	Value float64
}

// Bar 为单笔成交的盈亏柱。
type Bar struct {
	Label string
	Value float64
}

// Marker 在 K 线上标注开平仓。
type Marker struct {
	Time  time.Time
	Price float64
	Label string
	Long  bool
}

type ReportInput struct {
	Title    string
	Subtitle string
	Equity   []Point
	Trades   []Bar
	// Candles 可选；为空时不绘制价格图。
	Candles []market.Candle
	Markers []Marker
}

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorEquity        = "#3b82f6"
	colorDrawdown      = "#fbbf24"

	chartWidthPx   = 1200
	klineHeightPx  = 480
	equityHeightPx = 380
	tradesHeightPx = 260
)

// RenderReport 生成 HTML。资金曲线为空时返回错误。
func RenderReport(input ReportInput) ([]byte, error) {
	if len(input.Equity) == 0 {
		return nil, fmt.Errorf("equity curve is empty")
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = "Backtest"
	}
	page := components.NewPage()
	page.PageTitle = title
	page.SetLayout(components.PageFlexLayout)

	if len(input.Candles) > 0 {
		page.AddCharts(buildKlineChart(title, input.Candles, input.Markers))
	}
	page.AddCharts(buildEquityChart(title, input.Subtitle, input.Equity))
	if len(input.Trades) > 0 {
		page.AddCharts(buildTradesChart(input.Trades))
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func initOpts(height int) opts.Initialization {
	return opts.Initialization{
		Theme:           types.ThemeWesteros,
		Width:           fmt.Sprintf("%dpx", chartWidthPx),
		Height:          fmt.Sprintf("%dpx", height),
		BackgroundColor: colorBackground,
	}
}

func axisOpts() (opts.XAxis, opts.YAxis) {
	x := opts.XAxis{
		Type:      "category",
		AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
	}
	y := opts.YAxis{
		Scale:     opts.Bool(true),
		AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
	}
	return x, y
}

func buildKlineChart(title string, candles []market.Candle, markers []Marker) *charts.Kline {
	minPrice, maxPrice := priceBounds(candles)
	padding := (maxPrice - minPrice) * 0.05
	if padding <= 0 {
		padding = math.Max(1, math.Abs(maxPrice)*0.01)
	}
	x, y := axisOpts()
	y.Min = round(minPrice-padding, 4)
	y.Max = round(maxPrice+padding, 4)

	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(klineHeightPx)),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTitleOpts(opts.Title{
			Title:      title,
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(x),
		charts.WithYAxisOpts(y),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)
	xAxis := make([]string, len(candles))
	data := make([]opts.KlineData, 0, len(candles))
	for i, c := range candles {
		xAxis[i] = axisLabel(c.OpenAt())
		data = append(data, opts.KlineData{Value: [4]float64{c.Open, c.Close, c.Low, c.High}})
	}
	kline.SetXAxis(xAxis)
	kline.AddSeries("Price", data)

	if len(markers) > 0 {
		byLabel := make(map[string]Marker, len(markers))
		for _, m := range markers {
			byLabel[axisLabel(m.Time)] = m
		}
		kline.Overlap(
			markerSeries(xAxis, byLabel, true),
			markerSeries(xAxis, byLabel, false),
		)
	}
	return kline
}

// markerSeries 按方向拆成两个散点序列，颜色区分多空。
func markerSeries(xAxis []string, byLabel map[string]Marker, long bool) *charts.Scatter {
	name, color := "Short", colorBear
	if long {
		name, color = "Long", colorBull
	}
	points := make([]opts.ScatterData, len(xAxis))
	for i, label := range xAxis {
		m, ok := byLabel[label]
		if !ok || m.Long != long {
			points[i] = opts.ScatterData{Value: nil}
			continue
		}
		points[i] = opts.ScatterData{Name: m.Label, Value: round(m.Price, 4), Symbol: "pin", SymbolSize: 18}
	}
	scatter := charts.NewScatter()
	scatter.SetXAxis(xAxis)
	scatter.AddSeries(name, points, charts.WithItemStyleOpts(opts.ItemStyle{Color: color}))
	return scatter
}

func buildEquityChart(title, subtitle string, equity []Point) *charts.Line {
	x, y := axisOpts()
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(equityHeightPx)),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("%s equity", title),
			Subtitle:      subtitle,
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 16},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextSecondary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(x),
		charts.WithYAxisOpts(y),
	)
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}))

	xAxis := make([]string, len(equity))
	values := make([]opts.LineData, len(equity))
	drawdown := make([]opts.LineData, len(equity))
	peak := 0.0
	for i, p := range equity {
		xAxis[i] = axisLabel(p.Time)
		values[i] = opts.LineData{Value: round(p.Value, 4)}
		if p.Value > peak {
			peak = p.Value
		}
		dd := 0.0
		if peak > 0 {
			dd = (peak - p.Value) / peak * 100
		}
		drawdown[i] = opts.LineData{Value: round(dd, 2)}
	}
	line.SetXAxis(xAxis)
	line.AddSeries("Equity", values, charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}))
	line.AddSeries("Drawdown %", drawdown, charts.WithLineStyleOpts(opts.LineStyle{Color: colorDrawdown, Width: 1}))
	return line
}

func buildTradesChart(trades []Bar) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(tradesHeightPx)),
		charts.WithTitleOpts(opts.Title{Title: "PnL per trade", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)}}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	xAxis := make([]string, len(trades))
	data := make([]opts.BarData, len(trades))
	for i, t := range trades {
		xAxis[i] = t.Label
		color := colorBear
		if t.Value > 0 {
			color = colorBull
		}
		data[i] = opts.BarData{Value: round(t.Value, 4), ItemStyle: &opts.ItemStyle{Color: color}}
	}
	bar.SetXAxis(xAxis)
	bar.AddSeries("PnL", data)
	return bar
}

func axisLabel(t time.Time) string {
	return t.UTC().Format("01-02 15:04")
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}

func priceBounds(candles []market.Candle) (minVal, maxVal float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	minVal = candles[0].Low
	maxVal = candles[0].High
	for _, c := range candles {
		if c.Low < minVal {
			minVal = c.Low
		}
		if c.High > maxVal {
			maxVal = c.High
		}
	}
	return minVal, maxVal
}
