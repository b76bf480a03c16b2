package exchange

import "strings"

// PairFor 将标的名与计价币拼接为统一交易对，例如 ABC + BTC => ABC/BTC。
func PairFor(symbol, quote string) string {
	return strings.ToUpper(strings.TrimSpace(symbol)) + "/" + strings.ToUpper(strings.TrimSpace(quote))
}

// NormalizeSymbols 将原始输入转换为批次标的：去空白、大写、去重并保持输入顺序。
func NormalizeSymbols(raw []string, quote string) []SymbolRequest {
	out := make([]SymbolRequest, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, item := range raw {
		symbol := strings.ToUpper(strings.TrimSpace(item))
		if symbol == "" {
			continue
		}
		if _, ok := seen[symbol]; ok {
			continue
		}
		seen[symbol] = struct{}{}
		out = append(out, SymbolRequest{
			Symbol: symbol,
			Pair:   PairFor(symbol, quote),
		})
	}
	return out
}
