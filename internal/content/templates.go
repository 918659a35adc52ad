package content

// Starter templates shown in the code editor for each supported language. A submission that
// still equals its template is treated as not attempted.
var languageTemplates = map[string]string{
	"python": `# read one line from standard input
value = input()
print(f"input: {value}")`,

	"javascript": `// read standard input
const value = require('fs').readFileSync('/dev/stdin', 'utf8');
console.log(` + "`input: ${value}`" + `);`,

	"java": `public class Main {
    public static void main(String[] args) {
        java.util.Scanner scanner = new java.util.Scanner(System.in);
        String value = scanner.nextLine();
        System.out.println("input: " + value);
        scanner.close();
    }
}`,

	"cpp": `#include <iostream>
#include <string>
using namespace std;

int main() {
    string value;
    getline(cin, value);
    cout << "input: " << value << endl;
    return 0;
}`,

	"c": `#include <stdio.h>

int main() {
    char value[1000];
    fgets(value, sizeof(value), stdin);
    printf("input: %s", value);
    return 0;
}`,

	"csharp": `using System;

class Program {
    static void Main(string[] args) {
        string value = Console.ReadLine();
        Console.WriteLine($"input: {value}");
    }
}`,

	"ruby": `value = gets.chomp
puts "input: #{value}"`,

	"php": `<?php
$value = trim(fgets(STDIN));
echo "input: " . $value . "\n";
?>`,

	"swift": `if let value = readLine() {
    print("input: \(value)")
}`,

	"rust": `use std::io;

fn main() {
    let mut value = String::new();
    io::stdin().read_line(&mut value).expect("read error");
    println!("input: {}", value.trim());
}`,

	"go": `package main

import (
    "bufio"
    "fmt"
    "os"
)

func main() {
    scanner := bufio.NewScanner(os.Stdin)
    scanner.Scan()
    fmt.Printf("input: %s\n", scanner.Text())
}`,

	"kotlin": `fun main() {
    val value = readLine()
    println("input: $value")
}`,
}

// Template returns the starter template for a language.
func Template(language string) (string, bool) {
	template, ok := languageTemplates[NormalizeLanguage(language)]
	return template, ok
}
