// Command simulator is a cobra-based CLI client for the order-entry wire
// protocol: place and cancel subcommands that connect over TCP and print
// execution reports as they arrive.
package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	fenrirNet "fenrir/internal/net"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var serverAddr string

	root := &cobra.Command{
		Use:   "simulator",
		Short: "Send orders to a running fenrir server over its TCP protocol",
	}
	root.PersistentFlags().StringVar(&serverAddr, "server", "127.0.0.1:9090", "address of the exchange server")

	root.AddCommand(placeCmd(&serverAddr), cancelCmd(&serverAddr), runCmd(&serverAddr))
	return root
}

// orderTemplate describes one stream of generated load: orders of a fixed
// symbol/side/type with randomized price and quantity, fired every period.
type orderTemplate struct {
	client  string
	symbol  string
	side    string
	typ     string
	priceLo int64
	priceHi int64
	qtyLo   uint64
	qtyHi   uint64
	period  time.Duration
}

// templates is the built-in load mix: resting makers on both sides plus a
// slower stream of market takers, two symbols.
var templates = []orderTemplate{
	{client: "sim-mm-1", symbol: "BTC-KRW", side: "buy", typ: "limit", priceLo: 9_900, priceHi: 10_000, qtyLo: 1, qtyHi: 5, period: 200 * time.Millisecond},
	{client: "sim-mm-1", symbol: "BTC-KRW", side: "sell", typ: "limit", priceLo: 10_000, priceHi: 10_100, qtyLo: 1, qtyHi: 5, period: 200 * time.Millisecond},
	{client: "sim-taker", symbol: "BTC-KRW", side: "buy", typ: "market", qtyLo: 1, qtyHi: 3, period: 500 * time.Millisecond},
	{client: "sim-mm-2", symbol: "ETH-KRW", side: "buy", typ: "limit", priceLo: 780, priceHi: 800, qtyLo: 1, qtyHi: 10, period: 300 * time.Millisecond},
	{client: "sim-mm-2", symbol: "ETH-KRW", side: "sell", typ: "limit", priceLo: 800, priceHi: 820, qtyLo: 1, qtyHi: 10, period: 300 * time.Millisecond},
}

func runCmd(serverAddr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Generate continuous templated order flow against the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := net.Dial("tcp", *serverAddr)
			if err != nil {
				return fmt.Errorf("connect to %s: %w", *serverAddr, err)
			}
			defer conn.Close()

			go printReports(conn)

			var wg sync.WaitGroup
			for _, tpl := range templates {
				wg.Add(1)
				go func(tpl orderTemplate) {
					defer wg.Done()
					ticker := time.NewTicker(tpl.period)
					defer ticker.Stop()
					for range ticker.C {
						price := tpl.priceLo
						if tpl.priceHi > tpl.priceLo {
							price += rand.Int63n(tpl.priceHi - tpl.priceLo)
						}
						qty := tpl.qtyLo
						if tpl.qtyHi > tpl.qtyLo {
							qty += uint64(rand.Int63n(int64(tpl.qtyHi - tpl.qtyLo)))
						}
						if err := sendNewOrder(conn, tpl.client, tpl.symbol, tpl.side, tpl.typ, price, qty); err != nil {
							fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
							return
						}
					}
				}(tpl)
			}
			wg.Wait()
			return nil
		},
	}
}

func placeCmd(serverAddr *string) *cobra.Command {
	var (
		client string
		symbol string
		side   string
		typ    string
		price  int64
		qty    uint64
	)

	cmd := &cobra.Command{
		Use:   "place",
		Short: "Place a new order",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := net.Dial("tcp", *serverAddr)
			if err != nil {
				return fmt.Errorf("connect to %s: %w", *serverAddr, err)
			}
			defer conn.Close()

			go printReports(conn)

			if err := sendNewOrder(conn, client, symbol, side, typ, price, qty); err != nil {
				return err
			}
			fmt.Printf("-> sent %s %s %s qty=%d price=%d\n", strings.ToUpper(side), strings.ToUpper(typ), symbol, qty, price)

			time.Sleep(200 * time.Millisecond)
			return nil
		},
	}

	cmd.Flags().StringVar(&client, "client", "", "client id (required)")
	cmd.Flags().StringVar(&symbol, "symbol", "BTC-KRW", "trading symbol")
	cmd.Flags().StringVar(&side, "side", "buy", "buy or sell")
	cmd.Flags().StringVar(&typ, "type", "limit", "limit or market")
	cmd.Flags().Int64Var(&price, "price", 0, "limit price (ignored for market orders)")
	cmd.Flags().Uint64Var(&qty, "qty", 1, "order quantity")
	_ = cmd.MarkFlagRequired("client")

	return cmd
}

func cancelCmd(serverAddr *string) *cobra.Command {
	var (
		symbol  string
		orderID string
	)

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a resting order",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := net.Dial("tcp", *serverAddr)
			if err != nil {
				return fmt.Errorf("connect to %s: %w", *serverAddr, err)
			}
			defer conn.Close()

			go printReports(conn)

			if err := sendCancelOrder(conn, symbol, orderID); err != nil {
				return err
			}
			fmt.Printf("-> sent cancel for order %s\n", orderID)

			time.Sleep(200 * time.Millisecond)
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "BTC-KRW", "trading symbol")
	cmd.Flags().StringVar(&orderID, "order-id", "", "order id to cancel (required)")
	_ = cmd.MarkFlagRequired("order-id")

	return cmd
}

func sendNewOrder(conn net.Conn, clientID, symbol, sideStr, typeStr string, price int64, qty uint64) error {
	side := byte(0)
	if strings.EqualFold(sideStr, "sell") {
		side = 1
	}
	orderType := byte(0)
	if strings.EqualFold(typeStr, "market") {
		orderType = 1
	}

	body := make([]byte, 0, 2+1+1+1+1+8+8+len(symbol)+len(clientID))
	header := make([]byte, 2)
	binary.BigEndian.PutUint16(header, uint16(fenrirNet.NewOrder))
	body = append(body, header...)
	body = append(body, side, orderType, byte(len(symbol)), byte(len(clientID)))

	priceBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(priceBuf, uint64(price))
	body = append(body, priceBuf...)

	qtyBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(qtyBuf, qty)
	body = append(body, qtyBuf...)

	body = append(body, symbol...)
	body = append(body, clientID...)

	_, err := conn.Write(body)
	return err
}

func sendCancelOrder(conn net.Conn, symbol, orderID string) error {
	header := make([]byte, 2)
	binary.BigEndian.PutUint16(header, uint16(fenrirNet.CancelOrder))

	body := append(header, byte(len(symbol)), byte(len(orderID)))
	body = append(body, symbol...)
	body = append(body, orderID...)

	_, err := conn.Write(body)
	return err
}

func printReports(conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if err != io.EOF {
				fmt.Fprintf(os.Stderr, "connection lost: %v\n", err)
			}
			return
		}
		report, err := fenrirNet.ParseReport(buf[:n])
		if err != nil {
			continue
		}
		if report.Type == fenrirNet.ErrorReportMsg {
			fmt.Printf("[ERROR] order=%s %s\n", report.OrderID, report.Err)
			continue
		}
		fmt.Printf("[REPORT] order=%s side=%d price=%d qty=%d\n", report.OrderID, report.Side, report.Price, report.Quantity)
	}
}
