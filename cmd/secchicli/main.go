// Package main provides secchicli, a thin operator CLI for exercising a
// running coordinator by hand. Grounded on original_source/c2cli/c2cli.py;
// the teacher repo carries no CLI framework dependency (cmd/slcli/main.go
// dispatches on os.Args with the standard flag package), so this follows
// the same plain subcommand style rather than introducing one.
//
// Usage:
//
//	secchicli [-url http://host:port] [-password pass] <command> [arguments]
//
// Commands:
//
//	lsavailable
//	upload <file.tar.gz>
//	remove <package>...
//	lsenv
//	info <ip> <port>
//	lsinstalled <ip> <port>
//	install <ip> <port> <package>...
//	uninstall <ip> <port> <package>...
//	execute_tests <ip> <port> [-package p]... [-module m]... [-test_set t]...
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/secchiware/coordinator/internal/signing"
)

func main() {
	c2URL := flag.String("url", "http://127.0.0.1:5000", "URL of the coordinator")
	password := flag.String("password", "", "shared signing secret (prompted if omitted and required)")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	cmd := args[0]
	rest := args[1:]

	var err error
	switch cmd {
	case "lsavailable":
		err = cmdLsAvailable(*c2URL)
	case "upload":
		err = cmdUpload(*c2URL, requirePassword(password), rest)
	case "remove":
		err = cmdRemove(*c2URL, requirePassword(password), rest)
	case "lsenv":
		err = cmdLsEnv(*c2URL)
	case "info":
		err = cmdInfo(*c2URL, rest)
	case "lsinstalled":
		err = cmdLsInstalled(*c2URL, rest)
	case "install":
		err = cmdInstall(*c2URL, requirePassword(password), rest)
	case "uninstall":
		err = cmdUninstall(*c2URL, requirePassword(password), rest)
	case "execute_tests":
		err = cmdExecuteTests(*c2URL, rest)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`secchicli - operator CLI for the secchiware coordinator

Usage:
  secchicli [-url URL] [-password PASS] <command> [arguments]

Commands:
  lsavailable                                 List test sets available at the coordinator
  upload <file.tar.gz>                        Upload a compressed package archive
  remove <package>...                         Remove available packages
  lsenv                                       List registered environments
  info <ip> <port>                            Show platform info for an environment
  lsinstalled <ip> <port>                     List test sets installed in an environment
  install <ip> <port> <package>...            Install packages in an environment
  uninstall <ip> <port> <package>...          Remove installed packages from an environment
  execute_tests <ip> <port>                   Request a test report from an environment
    [-package p] [-module m] [-test_set t]    (each may repeat)`)
}

func requirePassword(p *string) string {
	if *p != "" {
		return *p
	}
	fmt.Fprint(os.Stderr, "Password: ")
	var in string
	fmt.Scanln(&in)
	return in
}

// unexpectedResponse reports a response whose status code the caller did
// not explicitly handle, mirroring the original CLI's blanket fallback.
func unexpectedResponse(resp *http.Response) error {
	return fmt.Errorf("unexpected response from Command and Control server: %s", resp.Status)
}

func errorField(resp *http.Response) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return resp.Status
	}
	return body.Error
}

func printJSON(resp *http.Response) error {
	var v interface{}
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return err
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func cmdLsAvailable(base string) error {
	resp, err := http.Get(base + "/test_sets")
	if err != nil {
		return connectionError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return printJSON(resp)
	}
	return unexpectedResponse(resp)
}

func cmdUpload(base, password string, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: secchicli upload <file.tar.gz>")
	}
	path := args[0]
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return errors.New("given path does not exist or is not a file")
	}
	if !strings.HasSuffix(path, ".tar.gz") {
		return errors.New("only .tar.gz extension allowed")
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("packages", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPatch, base+"/test_sets", bytes.NewReader(body.Bytes()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Digest", signing.Digest(body.Bytes()))
	if err := sign(req, password, "PATCH", "/test_sets", []string{"Digest"}); err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return connectionError(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusUnsupportedMediaType:
		fmt.Println(errorField(resp))
	case http.StatusNoContent:
	default:
		return unexpectedResponse(resp)
	}
	return nil
}

func cmdRemove(base, password string, packages []string) error {
	for _, pkg := range packages {
		req, err := http.NewRequest(http.MethodDelete, base+"/test_sets/"+pkg, nil)
		if err != nil {
			return err
		}
		if err := sign(req, password, "DELETE", "/test_sets/"+pkg, nil); err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return connectionError(err)
		}
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusNotFound:
			fmt.Println(errorField(resp))
		case http.StatusNoContent:
		default:
			resp.Body.Close()
			return unexpectedResponse(resp)
		}
		resp.Body.Close()
	}
	return nil
}

func cmdLsEnv(base string) error {
	resp, err := http.Get(base + "/environments")
	if err != nil {
		return connectionError(err)
	}
	defer resp.Body.Close()

	var envs []struct {
		IP           string `json:"ip"`
		Port         int    `json:"port"`
		SessionStart string `json:"session_start"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envs); err != nil {
		return err
	}
	for _, env := range envs {
		fmt.Printf("%s:%d %s\n", env.IP, env.Port, env.SessionStart)
	}
	return nil
}

func cmdInfo(base string, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: secchicli info <ip> <port>")
	}
	ip, port := args[0], args[1]
	resp, err := http.Get(fmt.Sprintf("%s/environments/%s/%s/info", base, ip, port))
	if err != nil {
		return connectionError(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return printJSON(resp)
	case http.StatusNotFound:
		fmt.Println(errorField(resp))
		return nil
	default:
		return unexpectedResponse(resp)
	}
}

func cmdLsInstalled(base string, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: secchicli lsinstalled <ip> <port>")
	}
	ip, port := args[0], args[1]
	resp, err := http.Get(fmt.Sprintf("%s/environments/%s/%s/installed", base, ip, port))
	if err != nil {
		return connectionError(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return printJSON(resp)
	case http.StatusNotFound, http.StatusBadGateway, http.StatusGatewayTimeout:
		fmt.Println(errorField(resp))
		return nil
	default:
		return unexpectedResponse(resp)
	}
}

func cmdInstall(base, password string, args []string) error {
	if len(args) < 3 {
		return errors.New("usage: secchicli install <ip> <port> <package>...")
	}
	ip, port, packages := args[0], args[1], args[2:]

	payload, err := json.Marshal(packages)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/environments/%s/%s/installed", ip, port)
	req, err := http.NewRequest(http.MethodPatch, base+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Digest", signing.Digest(payload))
	if err := sign(req, password, "PATCH", path, []string{"Digest"}); err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return connectionError(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusNotFound, http.StatusUnsupportedMediaType,
		http.StatusInternalServerError, http.StatusBadGateway, http.StatusGatewayTimeout:
		fmt.Println(errorField(resp))
	case http.StatusNoContent:
	default:
		return unexpectedResponse(resp)
	}
	return nil
}

func cmdUninstall(base, password string, args []string) error {
	if len(args) < 3 {
		return errors.New("usage: secchicli uninstall <ip> <port> <package>...")
	}
	ip, port, packages := args[0], args[1], args[2:]

	for _, pkg := range packages {
		path := fmt.Sprintf("/environments/%s/%s/installed/%s", ip, port, pkg)
		req, err := http.NewRequest(http.MethodDelete, base+path, nil)
		if err != nil {
			return err
		}
		if err := sign(req, password, "DELETE", path, nil); err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return connectionError(err)
		}
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusNotFound, http.StatusBadGateway, http.StatusGatewayTimeout:
			fmt.Println(errorField(resp))
		case http.StatusNoContent:
		default:
			resp.Body.Close()
			return unexpectedResponse(resp)
		}
		resp.Body.Close()
	}
	return nil
}

func cmdExecuteTests(base string, args []string) error {
	fs := flag.NewFlagSet("execute_tests", flag.ExitOnError)
	var packages, modules, testSets multiFlag
	fs.Var(&packages, "package", "limit to package (repeatable)")
	fs.Var(&modules, "module", "limit to module (repeatable)")
	fs.Var(&testSets, "test_set", "limit to test set (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	remaining := fs.Args()
	if len(remaining) < 2 {
		return errors.New("usage: secchicli execute_tests <ip> <port> [-package p] [-module m] [-test_set t]")
	}
	ip, port := remaining[0], remaining[1]
	// Filter flags may also follow the ip and port arguments.
	if err := fs.Parse(remaining[2:]); err != nil {
		return err
	}

	q := url.Values{}
	if len(packages) > 0 {
		q.Set("packages", strings.Join(packages, ","))
	}
	if len(modules) > 0 {
		q.Set("modules", strings.Join(modules, ","))
	}
	if len(testSets) > 0 {
		q.Set("test_sets", strings.Join(testSets, ","))
	}

	reqURL := fmt.Sprintf("%s/environments/%s/%s/reports", base, ip, port)
	if encoded := q.Encode(); encoded != "" {
		reqURL += "?" + encoded
	}

	resp, err := http.Get(reqURL)
	if err != nil {
		return connectionError(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return printJSON(resp)
	case http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusGatewayTimeout:
		fmt.Println(errorField(resp))
		return nil
	default:
		return unexpectedResponse(resp)
	}
}

// multiFlag collects repeated -flag occurrences into a slice.
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }
func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

// sign signs a request with keyId "Client", the operator's own identity in
// the SECCHIWARE-HMAC-256 scheme.
func sign(req *http.Request, password, method, path string, signedHeaders []string) error {
	recover := func(name string) (string, bool) {
		v := req.Header.Get(name)
		if v == "" {
			return "", false
		}
		return v, true
	}
	sig, err := signing.New([]byte(password), method, path, "", signedHeaders, recover)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", signing.AuthorizationHeader("Client", sig, signedHeaders))
	return nil
}

func connectionError(err error) error {
	return fmt.Errorf("connection refused: %w", err)
}
